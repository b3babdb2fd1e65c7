package chain

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

const defaultRPCTimeout = 30 * time.Second

// ClientConfig carries the connection settings for a bitcoind-style JSON-RPC
// endpoint exposing both chain data and wallet operations.
type ClientConfig struct {
	Host     string
	Port     uint16
	User     string
	Password string
	Params   *chaincfg.Params
	Timeout  time.Duration
	Logger   *slog.Logger
}

// Client talks JSON-RPC to the chain data source / wallet. It implements both
// BlockSource and Wallet.
type Client struct {
	url    string
	user   string
	pass   string
	params *chaincfg.Params
	http   *http.Client
	logger *slog.Logger
	nextID atomic.Uint64
}

var (
	_ BlockSource = (*Client)(nil)
	_ Wallet      = (*Client)(nil)
)

// NewClient builds a client for the given endpoint. No connection is made
// until the first call; use GetChainInfo to verify reachability at startup.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Host == "" || cfg.Port == 0 {
		return nil, fmt.Errorf("chain: rpc host and port required")
	}
	if cfg.Params == nil {
		return nil, fmt.Errorf("chain: network params required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRPCTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		url:    fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port),
		user:   cfg.User,
		pass:   cfg.Password,
		params: cfg.Params,
		http:   &http.Client{Timeout: timeout},
		logger: logger.With(slog.String("component", "chain_client")),
	}, nil
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (c *Client) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "1.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("chain: encode %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("chain: build %s request: %w", method, err)
	}
	req.SetBasicAuth(c.user, c.pass)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("chain: %s: %w", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("chain: read %s response: %w", method, err)
	}

	var decoded rpcResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return fmt.Errorf("chain: decode %s response (http %d): %w", method, resp.StatusCode, err)
	}
	if decoded.Error != nil {
		return fmt.Errorf("chain: %s failed: %s (code %d)", method, decoded.Error.Message, decoded.Error.Code)
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(decoded.Result, result); err != nil {
		return fmt.Errorf("chain: decode %s result: %w", method, err)
	}
	return nil
}

type blockchainInfo struct {
	Chain         string `json:"chain"`
	Blocks        int32  `json:"blocks"`
	BestBlockHash string `json:"bestblockhash"`
}

// GetChainInfo reports the source's network and best block.
func (c *Client) GetChainInfo(ctx context.Context) (*ChainInfo, error) {
	var info blockchainInfo
	if err := c.call(ctx, "getblockchaininfo", nil, &info); err != nil {
		return nil, err
	}
	best, err := chainhash.NewHashFromStr(info.BestBlockHash)
	if err != nil {
		return nil, fmt.Errorf("chain: parse best block hash: %w", err)
	}
	return &ChainInfo{
		Network:    info.Chain,
		BestHash:   *best,
		BestHeight: info.Blocks,
	}, nil
}

type headerInfo struct {
	Hash              string `json:"hash"`
	Height            int32  `json:"height"`
	Version           int32  `json:"version"`
	MerkleRoot        string `json:"merkleroot"`
	Time              int64  `json:"time"`
	Nonce             uint32 `json:"nonce"`
	Bits              string `json:"bits"`
	PreviousBlockHash string `json:"previousblockhash"`
}

// GetBestHeader returns the source's current best validated header.
func (c *Client) GetBestHeader(ctx context.Context) (Tip, error) {
	var bestHash string
	if err := c.call(ctx, "getbestblockhash", nil, &bestHash); err != nil {
		return Tip{}, err
	}
	hash, err := chainhash.NewHashFromStr(bestHash)
	if err != nil {
		return Tip{}, fmt.Errorf("chain: parse best block hash: %w", err)
	}
	return c.GetHeader(ctx, hash)
}

// GetHeader fetches the header with the given hash.
func (c *Client) GetHeader(ctx context.Context, hash *chainhash.Hash) (Tip, error) {
	var info headerInfo
	if err := c.call(ctx, "getblockheader", []interface{}{hash.String(), true}, &info); err != nil {
		return Tip{}, err
	}
	return info.toTip()
}

func (h headerInfo) toTip() (Tip, error) {
	hash, err := chainhash.NewHashFromStr(h.Hash)
	if err != nil {
		return Tip{}, fmt.Errorf("chain: parse header hash: %w", err)
	}
	merkle, err := chainhash.NewHashFromStr(h.MerkleRoot)
	if err != nil {
		return Tip{}, fmt.Errorf("chain: parse merkle root: %w", err)
	}
	header := wire.BlockHeader{
		Version:    h.Version,
		MerkleRoot: *merkle,
		Timestamp:  time.Unix(h.Time, 0),
		Nonce:      h.Nonce,
	}
	if h.PreviousBlockHash != "" {
		prev, err := chainhash.NewHashFromStr(h.PreviousBlockHash)
		if err != nil {
			return Tip{}, fmt.Errorf("chain: parse previous block hash: %w", err)
		}
		header.PrevBlock = *prev
	}
	if h.Bits != "" {
		bits, err := strconv.ParseUint(h.Bits, 16, 32)
		if err != nil {
			return Tip{}, fmt.Errorf("chain: parse header bits: %w", err)
		}
		header.Bits = uint32(bits)
	}
	return Tip{Hash: *hash, Height: h.Height, Header: header}, nil
}

// GetBlockHash returns the active-chain block hash at the given height.
func (c *Client) GetBlockHash(ctx context.Context, height int32) (*chainhash.Hash, error) {
	var hashStr string
	if err := c.call(ctx, "getblockhash", []interface{}{height}, &hashStr); err != nil {
		return nil, err
	}
	hash, err := chainhash.NewHashFromStr(hashStr)
	if err != nil {
		return nil, fmt.Errorf("chain: parse block hash: %w", err)
	}
	return hash, nil
}

// GetBlock fetches a full block by hash.
func (c *Client) GetBlock(ctx context.Context, hash *chainhash.Hash) (*wire.MsgBlock, error) {
	var blockHex string
	if err := c.call(ctx, "getblock", []interface{}{hash.String(), 0}, &blockHex); err != nil {
		return nil, err
	}
	raw, err := hex.DecodeString(blockHex)
	if err != nil {
		return nil, fmt.Errorf("chain: decode block hex: %w", err)
	}
	block := &wire.MsgBlock{}
	if err := block.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("chain: deserialize block: %w", err)
	}
	return block, nil
}

// CreateRawTransaction asks the wallet for a transaction skeleton paying the
// given outputs, with no inputs selected yet.
func (c *Client) CreateRawTransaction(ctx context.Context, outputs map[btcutil.Address]btcutil.Amount) (string, error) {
	amounts := make(map[string]float64, len(outputs))
	for addr, amount := range outputs {
		amounts[addr.EncodeAddress()] = amount.ToBTC()
	}
	var rawHex string
	err := c.call(ctx, "createrawtransaction", []interface{}{[]interface{}{}, amounts}, &rawHex)
	if err != nil {
		return "", err
	}
	return rawHex, nil
}

type fundResult struct {
	Hex       string  `json:"hex"`
	Fee       float64 `json:"fee"`
	ChangePos int     `json:"changepos"`
}

// FundRawTransaction has the wallet select inputs sufficient to satisfy the
// transaction's outputs, adding a change output as needed.
func (c *Client) FundRawTransaction(ctx context.Context, rawHex string) (*FundedTransaction, error) {
	var result fundResult
	if err := c.call(ctx, "fundrawtransaction", []interface{}{rawHex}, &result); err != nil {
		return nil, err
	}
	return &FundedTransaction{Hex: result.Hex, ChangePosition: result.ChangePos}, nil
}

type signResult struct {
	Hex      string `json:"hex"`
	Complete bool   `json:"complete"`
}

// SignRawTransaction has the wallet sign every input it controls.
func (c *Client) SignRawTransaction(ctx context.Context, rawHex string) (*SignedTransaction, error) {
	var result signResult
	if err := c.call(ctx, "signrawtransactionwithwallet", []interface{}{rawHex}, &result); err != nil {
		return nil, err
	}
	return &SignedTransaction{Hex: result.Hex, Complete: result.Complete}, nil
}

// GetNewAddress returns a fresh wallet-controlled address.
func (c *Client) GetNewAddress(ctx context.Context) (btcutil.Address, error) {
	var addrStr string
	if err := c.call(ctx, "getnewaddress", nil, &addrStr); err != nil {
		return nil, err
	}
	addr, err := btcutil.DecodeAddress(addrStr, c.params)
	if err != nil {
		return nil, fmt.Errorf("chain: decode wallet address %q: %w", addrStr, err)
	}
	return addr, nil
}

type estimateResult struct {
	FeeRate *float64 `json:"feerate"`
}

// EstimateFeeRate returns the fee estimate for the given confirmation target
// in satoshis per 1000 weight units, falling back to FallbackFeeRate when the
// source has no estimate.
func (c *Client) EstimateFeeRate(ctx context.Context, confTarget int32) SatPerKWeight {
	var result estimateResult
	if err := c.call(ctx, "estimatesmartfee", []interface{}{confTarget}, &result); err != nil || result.FeeRate == nil {
		if err != nil {
			c.logger.Warn("Fee estimation failed, using fallback",
				slog.Int("conf_target", int(confTarget)),
				slog.Any("error", err))
		}
		return FallbackFeeRate
	}
	// feerate is BTC per kvB; one virtual byte is four weight units.
	satPerKvB, err := btcutil.NewAmount(*result.FeeRate)
	if err != nil || satPerKvB <= 0 {
		return FallbackFeeRate
	}
	rate := SatPerKWeight(satPerKvB / 4)
	if rate < FallbackFeeRate {
		return FallbackFeeRate
	}
	return rate
}

// Broadcast submits the transaction to the source's mempool.
func (c *Client) Broadcast(ctx context.Context, tx *wire.MsgTx) error {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return fmt.Errorf("chain: serialize transaction: %w", err)
	}
	var txid string
	if err := c.call(ctx, "sendrawtransaction", []interface{}{hex.EncodeToString(buf.Bytes())}, &txid); err != nil {
		return err
	}
	c.logger.Info("Broadcast transaction", slog.String("txid", txid))
	return nil
}
