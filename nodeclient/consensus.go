package nodeclient

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	chaintypes "github.com/ethmiss/missmonitor/chain/types"
	"github.com/ethmiss/missmonitor/params"
)

// ConsensusClient talks to the beacon node's REST API. It is deliberately
// not routed through ethclient/rpc.Client: the beacon API is plain REST +
// SSE, not JSON-RPC.
type ConsensusClient struct {
	baseURL     string
	httpClient  *http.Client
	log         log.Logger
	genesisTime time.Time
	slotSeconds uint64
}

// NewConsensusClient builds a client against the given beacon node base
// URL and fetches its genesis time (needed to derive proposal_time from
// slot).
func NewConsensusClient(ctx context.Context, baseURL string) (*ConsensusClient, error) {
	c := &ConsensusClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		log:         log.New("node", baseURL),
		slotSeconds: params.DefaultSlotSeconds,
	}
	genesisTime, err := c.fetchGenesisTime(ctx)
	if err != nil {
		return nil, err
	}
	c.genesisTime = genesisTime
	return c, nil
}

type genesisResponse struct {
	Data struct {
		GenesisTime string `json:"genesis_time"`
	} `json:"data"`
}

func (c *ConsensusClient) fetchGenesisTime(ctx context.Context) (time.Time, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/eth/v1/beacon/genesis", nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: genesis: %v", ErrTransport, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return time.Time{}, fmt.Errorf("%w: genesis: status %d", ErrTransport, resp.StatusCode)
	}
	var body genesisResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return time.Time{}, fmt.Errorf("%w: genesis body: %v", ErrProtocol, err)
	}
	secs, err := strconv.ParseInt(body.Data.GenesisTime, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: genesis_time %q: %v", ErrProtocol, body.Data.GenesisTime, err)
	}
	return time.Unix(secs, 0).UTC(), nil
}

// headEvent mirrors the "head" topic payload of the beacon node's SSE
// events stream (/eth/v1/events?topics=head).
type headEvent struct {
	Slot  string `json:"slot"`
	Block string `json:"block"`
}

// blockHeaderResponse mirrors /eth/v1/beacon/headers/{block_id}.
type blockHeaderResponse struct {
	Data struct {
		Root   string `json:"root"`
		Header struct {
			Message struct {
				Slot          string `json:"slot"`
				ProposerIndex string `json:"proposer_index"`
				ParentRoot    string `json:"parent_root"`
			} `json:"message"`
		} `json:"header"`
	} `json:"data"`
}

// beaconBlockResponse mirrors the subset of /eth/v2/beacon/blocks/{block_id}
// this system needs: the post-Merge execution payload embedded in the
// beacon block body.
type beaconBlockResponse struct {
	Data struct {
		Message struct {
			Body struct {
				ExecutionPayload struct {
					BlockHash   string `json:"block_hash"`
					BlockNumber string `json:"block_number"`
				} `json:"execution_payload"`
			} `json:"body"`
		} `json:"message"`
	} `json:"data"`
}

// fetchExecutionPayload resolves the execution-layer block hash and number
// carried inside a beacon block, so the tracker can pass them to the
// execution node's fetch_block.
func (c *ConsensusClient) fetchExecutionPayload(ctx context.Context, blockID string) (common.Hash, uint64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/eth/v2/beacon/blocks/"+blockID, nil)
	if err != nil {
		return common.Hash{}, 0, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return common.Hash{}, 0, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return common.Hash{}, 0, fmt.Errorf("%w: block %s: status %d", ErrTransport, blockID, resp.StatusCode)
	}
	var body beaconBlockResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return common.Hash{}, 0, fmt.Errorf("%w: block body: %v", ErrProtocol, err)
	}
	payload := body.Data.Message.Body.ExecutionPayload
	number, err := strconv.ParseUint(payload.BlockNumber, 10, 64)
	if err != nil {
		return common.Hash{}, 0, fmt.Errorf("%w: execution block_number %q: %v", ErrProtocol, payload.BlockNumber, err)
	}
	return common.HexToHash(payload.BlockHash), number, nil
}

// SubscribeHeads streams newly finalized-at-head beacon blocks via SSE,
// restarting the connection with jittered exponential backoff on
// disconnect, the same reconnect policy the pending-hash subscriptions use.
func (c *ConsensusClient) SubscribeHeads(ctx context.Context) (<-chan *chaintypes.Head, error) {
	out := make(chan *chaintypes.Head, 16)
	go c.runHeadSubscription(ctx, out)
	return out, nil
}

func (c *ConsensusClient) runHeadSubscription(ctx context.Context, out chan<- *chaintypes.Head) {
	defer close(out)

	retry := newReconnectBackoff()
	for {
		if ctx.Err() != nil {
			return
		}
		if err := c.streamHeadsOnce(ctx, out); err != nil {
			c.log.Warn("head event stream dropped, reconnecting", "error", err)
			if !c.sleepBackoffCtx(ctx, retry) {
				return
			}
			continue
		}
		retry.Reset()
	}
}

func (c *ConsensusClient) sleepBackoffCtx(ctx context.Context, b interface{ NextBackOff() time.Duration }) bool {
	t := time.NewTimer(b.NextBackOff())
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *ConsensusClient) streamHeadsOnce(ctx context.Context, out chan<- *chaintypes.Head) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/eth/v1/events?topics=head", nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrTransport, resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		observedAt := time.Now().UTC()
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))

		var ev headEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			c.log.Warn("malformed head event, skipping", "error", err)
			continue
		}
		head, err := c.resolveHead(ctx, ev)
		if err != nil {
			c.log.Warn("failed to resolve head event", "error", err)
			continue
		}
		head.ObservedAt = observedAt
		select {
		case out <- head:
		case <-ctx.Done():
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return fmt.Errorf("%w: event stream closed", ErrTransport)
}

// resolveHead fetches the full beacon block header for the event's block
// root and derives the proposal time from its slot.
func (c *ConsensusClient) resolveHead(ctx context.Context, ev headEvent) (*chaintypes.Head, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/eth/v1/beacon/headers/"+ev.Block, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: header %s: status %d", ErrTransport, ev.Block, resp.StatusCode)
	}
	var body blockHeaderResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: header body: %v", ErrProtocol, err)
	}

	slot, err := strconv.ParseUint(body.Data.Header.Message.Slot, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: slot %q: %v", ErrProtocol, body.Data.Header.Message.Slot, err)
	}
	proposerIndex, err := strconv.ParseUint(body.Data.Header.Message.ProposerIndex, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: proposer_index %q: %v", ErrProtocol, body.Data.Header.Message.ProposerIndex, err)
	}

	execHash, execNumber, err := c.fetchExecutionPayload(ctx, ev.Block)
	if err != nil {
		return nil, err
	}

	return &chaintypes.Head{
		Root:                 common.HexToHash(body.Data.Root),
		ParentRoot:           common.HexToHash(body.Data.Header.Message.ParentRoot),
		Slot:                 slot,
		ProposerIndex:        proposerIndex,
		ProposalTime:         chaintypes.ProposalTimeForSlot(c.genesisTime, slot, c.slotSeconds),
		ExecutionBlockHash:   execHash,
		ExecutionBlockNumber: execNumber,
	}, nil
}
