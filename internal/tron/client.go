package tron

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// USDT on TRON has 6 decimals.
const tokenDecimals = 6

var (
	ErrUnavailable       = errors.New("tron node unavailable")
	ErrBroadcastRejected = errors.New("transaction rejected by node")
)

type ConfirmationStatus string

const (
	StatusPending   ConfirmationStatus = "pending"
	StatusConfirmed ConfirmationStatus = "confirmed"
	StatusFailed    ConfirmationStatus = "failed"
)

// Transfer is one incoming TRC20 token transfer.
type Transfer struct {
	TxID   string
	From   string
	To     string
	Amount decimal.Decimal
}

type Config struct {
	BaseURL      string
	APIKey       string
	USDTContract string
	FeeLimitSun  int64
	Timeout      time.Duration
}

// Client talks to a TronGrid-compatible HTTP API.
type Client struct {
	baseURL    string
	apiKey     string
	contract   string
	feeLimit   int64
	httpClient *http.Client
	logger     zerolog.Logger
}

func NewClient(cfg Config, logger zerolog.Logger) (*Client, error) {
	if _, err := ParseAddress(cfg.USDTContract); err != nil {
		return nil, fmt.Errorf("usdt contract: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		contract:   cfg.USDTContract,
		feeLimit:   cfg.FeeLimitSun,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}, nil
}

func (c *Client) GenerateAccount() (*Account, error) {
	return GenerateAccount()
}

type triggerRequest struct {
	OwnerAddress     string `json:"owner_address"`
	ContractAddress  string `json:"contract_address"`
	FunctionSelector string `json:"function_selector"`
	Parameter        string `json:"parameter"`
	FeeLimit         int64  `json:"fee_limit,omitempty"`
	CallValue        int64  `json:"call_value"`
	Visible          bool   `json:"visible"`
}

type triggerResult struct {
	Result struct {
		Result  bool   `json:"result"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"result"`
	ConstantResult []string        `json:"constant_result"`
	Transaction    json.RawMessage `json:"transaction"`
}

// GetTokenBalance returns the USDT balance of address.
func (c *Client) GetTokenBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	owner, err := ParseAddress(address)
	if err != nil {
		return decimal.Zero, err
	}

	var res triggerResult
	err = c.post(ctx, "/wallet/triggerconstantcontract", triggerRequest{
		OwnerAddress:     address,
		ContractAddress:  c.contract,
		FunctionSelector: "balanceOf(address)",
		Parameter:        owner.abiWord(),
		Visible:          true,
	}, &res)
	if err != nil {
		return decimal.Zero, err
	}
	if !res.Result.Result || len(res.ConstantResult) == 0 {
		return decimal.Zero, fmt.Errorf("%w: balanceOf failed: %s", ErrUnavailable, decodeMessage(res.Result.Message))
	}

	units, ok := new(big.Int).SetString(res.ConstantResult[0], 16)
	if !ok {
		return decimal.Zero, fmt.Errorf("malformed balanceOf result %q", res.ConstantResult[0])
	}
	return decimal.NewFromBigInt(units, -tokenDecimals), nil
}

// BroadcastTransfer sends amount USDT from the key's address to to. An empty
// id means nothing was broadcast. A non-empty id with an error means the
// broadcast outcome is unknown and the id must be tracked on chain.
func (c *Client) BroadcastTransfer(ctx context.Context, fromKey, to string, amount decimal.Decimal) (string, error) {
	priv, err := parsePrivateKey(fromKey)
	if err != nil {
		return "", err
	}
	from := addressFromPublicKey(priv.PubKey().SerializeUncompressed())
	dest, err := ParseAddress(to)
	if err != nil {
		return "", err
	}
	if !amount.IsPositive() || !amount.Equal(amount.Truncate(tokenDecimals)) {
		return "", fmt.Errorf("invalid transfer amount %s", amount)
	}
	units := amount.Shift(tokenDecimals).BigInt()

	var res triggerResult
	err = c.post(ctx, "/wallet/triggersmartcontract", triggerRequest{
		OwnerAddress:     from.String(),
		ContractAddress:  c.contract,
		FunctionSelector: "transfer(address,uint256)",
		Parameter:        dest.abiWord() + fmt.Sprintf("%064x", units),
		FeeLimit:         c.feeLimit,
		Visible:          true,
	}, &res)
	if err != nil {
		return "", err
	}
	if !res.Result.Result || len(res.Transaction) == 0 {
		return "", fmt.Errorf("%w: %s", ErrBroadcastRejected, decodeMessage(res.Result.Message))
	}

	tx, txID, err := signTransaction(priv, res.Transaction)
	if err != nil {
		return "", err
	}

	var out struct {
		Result  bool   `json:"result"`
		TxID    string `json:"txid"`
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := c.post(ctx, "/wallet/broadcasttransaction", tx, &out); err != nil {
		c.logger.Warn().Err(err).Str("tx_id", txID).Msg("broadcast outcome unknown")
		return txID, err
	}
	if !out.Result {
		return "", fmt.Errorf("%w: %s %s", ErrBroadcastRejected, out.Code, decodeMessage(out.Message))
	}

	c.logger.Info().Str("tx_id", txID).Str("to", to).Str("amount", amount.String()).Msg("transfer broadcast")
	return txID, nil
}

// signTransaction checks the node-built txID against raw_data_hex and appends
// the signature.
func signTransaction(priv *secp256k1.PrivateKey, raw json.RawMessage) (map[string]json.RawMessage, string, error) {
	var tx map[string]json.RawMessage
	if err := json.Unmarshal(raw, &tx); err != nil {
		return nil, "", fmt.Errorf("decode transaction: %w", err)
	}

	var txID, rawHex string
	if err := json.Unmarshal(tx["txID"], &txID); err != nil {
		return nil, "", fmt.Errorf("decode txID: %w", err)
	}
	if err := json.Unmarshal(tx["raw_data_hex"], &rawHex); err != nil {
		return nil, "", fmt.Errorf("decode raw_data_hex: %w", err)
	}
	rawBytes, err := hex.DecodeString(rawHex)
	if err != nil {
		return nil, "", fmt.Errorf("decode raw_data_hex: %w", err)
	}
	sum := sha256.Sum256(rawBytes)
	if hex.EncodeToString(sum[:]) != strings.ToLower(txID) {
		return nil, "", errors.New("transaction id does not match raw data")
	}

	sig, err := signTxID(priv, sum[:])
	if err != nil {
		return nil, "", err
	}
	encoded, err := json.Marshal([]string{hex.EncodeToString(sig)})
	if err != nil {
		return nil, "", err
	}
	tx["signature"] = encoded
	return tx, txID, nil
}

// GetConfirmationStatus reports confirmed only once the transaction is solidified.
func (c *Client) GetConfirmationStatus(ctx context.Context, txID string) (ConfirmationStatus, error) {
	var info struct {
		ID          string `json:"id"`
		BlockNumber int64  `json:"blockNumber"`
		Result      string `json:"result"`
		Receipt     struct {
			Result string `json:"result"`
		} `json:"receipt"`
	}
	if err := c.post(ctx, "/walletsolidity/gettransactioninfobyid", map[string]string{"value": txID}, &info); err != nil {
		return StatusPending, err
	}

	switch {
	case info.ID == "":
		return StatusPending, nil
	case info.Result == "FAILED":
		return StatusFailed, nil
	case info.Receipt.Result == "" || info.Receipt.Result == "SUCCESS":
		return StatusConfirmed, nil
	default:
		return StatusFailed, nil
	}
}

// ListIncomingTransfers returns recent USDT transfers into address.
func (c *Client) ListIncomingTransfers(ctx context.Context, address string) ([]Transfer, error) {
	q := url.Values{}
	q.Set("only_to", "true")
	q.Set("only_confirmed", "true")
	q.Set("contract_address", c.contract)
	q.Set("limit", "50")

	var res struct {
		Success bool `json:"success"`
		Data    []struct {
			TransactionID string `json:"transaction_id"`
			From          string `json:"from"`
			To            string `json:"to"`
			Value         string `json:"value"`
			TokenInfo     struct {
				Address  string `json:"address"`
				Decimals int32  `json:"decimals"`
			} `json:"token_info"`
		} `json:"data"`
	}
	path := "/v1/accounts/" + url.PathEscape(address) + "/transactions/trc20?" + q.Encode()
	if err := c.do(ctx, http.MethodGet, path, nil, &res); err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, fmt.Errorf("%w: transfer listing unsuccessful", ErrUnavailable)
	}

	transfers := make([]Transfer, 0, len(res.Data))
	for _, t := range res.Data {
		if t.To != address || (t.TokenInfo.Address != "" && t.TokenInfo.Address != c.contract) {
			continue
		}
		units, err := decimal.NewFromString(t.Value)
		if err != nil {
			return nil, fmt.Errorf("malformed transfer value %q: %w", t.Value, err)
		}
		decimals := t.TokenInfo.Decimals
		if decimals == 0 {
			decimals = tokenDecimals
		}
		transfers = append(transfers, Transfer{
			TxID:   t.TransactionID,
			From:   t.From,
			To:     t.To,
			Amount: units.Shift(-decimals),
		})
	}
	return transfers, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("TRON-PRO-API-KEY", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %s returned %d", ErrUnavailable, path, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// decodeMessage unwraps the hex-encoded error messages the node returns.
func decodeMessage(msg string) string {
	if raw, err := hex.DecodeString(msg); err == nil && len(raw) > 0 {
		return string(raw)
	}
	return msg
}
