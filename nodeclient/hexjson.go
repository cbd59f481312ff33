package nodeclient

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
)

// hexUint64, hexBig and hexBytes decode the 0x-prefixed hex quantities the
// txpool_content JSON-RPC method returns. go-ethereum's own hexutil types
// would serve here too, but txpool_content's "pending" map is keyed by
// address and nonce as plain strings outside the typed RPC API surface
// ethclient exposes, so the response is decoded by hand the way the
// corpus's raw rpc.Client.CallContext callers (e.g. the EspressoSystems
// L1Client reference) decode untyped JSON-RPC results.
type hexUint64 uint64

func (h *hexUint64) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		*h = 0
		return nil
	}
	v, ok := new(big.Int).SetString(s, 16)
	if !ok {
		return fmt.Errorf("invalid hex quantity %q", s)
	}
	*h = hexUint64(v.Uint64())
	return nil
}

type hexBig struct{ *big.Int }

func (h *hexBig) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		h.Int = big.NewInt(0)
		return nil
	}
	v, ok := new(big.Int).SetString(s, 16)
	if !ok {
		return fmt.Errorf("invalid hex quantity %q", s)
	}
	h.Int = v
	return nil
}

type hexBytes []byte

func (h *hexBytes) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	s = strings.TrimPrefix(s, "0x")
	b, err := hexDecode(s)
	if err != nil {
		return err
	}
	*h = b
	return nil
}

func hexDecode(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		s = "0" + s
	}
	return hex.DecodeString(s)
}
