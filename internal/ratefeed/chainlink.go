package ratefeed

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const aggregatorABIJSON = `[
  {"inputs":[],"name":"latestRoundData","outputs":[{"internalType":"uint80","name":"roundId","type":"uint80"},{"internalType":"int256","name":"answer","type":"int256"},{"internalType":"uint256","name":"startedAt","type":"uint256"},{"internalType":"uint256","name":"updatedAt","type":"uint256"},{"internalType":"uint80","name":"answeredInRound","type":"uint80"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"}
]`

var aggregatorABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(aggregatorABIJSON))
	if err != nil {
		panic("failed to parse aggregator ABI: " + err.Error())
	}
	aggregatorABI = parsed
}

// ChainlinkOptions parameterise the on-chain fetcher. Feeds maps an asset
// identifier to its USD aggregator contract address.
type ChainlinkOptions struct {
	RPCURL  string
	Feeds   map[string]string
	Timeout time.Duration
}

// Chainlink reads spot prices from Chainlink USD aggregators over Ethereum RPC.
type Chainlink struct {
	opts      ChainlinkOptions
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex
}

// NewChainlink builds a new on-chain fetcher.
func NewChainlink(opts ChainlinkOptions, logger zerolog.Logger) *Chainlink {
	return &Chainlink{opts: opts, logger: logger.With().Str("component", "chainlink_fetcher").Logger()}
}

// FetchPrice reads the latest aggregator round for the asset. Only USD
// quotes are served on-chain; cross rates come from the HTTP source.
func (c *Chainlink) FetchPrice(ctx context.Context, asset, quote string) (decimal.Decimal, error) {
	if c.opts.RPCURL == "" {
		return decimal.Decimal{}, errors.New("ethereum rpc url not configured")
	}
	if quote != "" && quote != "usd" {
		return decimal.Decimal{}, fmt.Errorf("chainlink source only serves usd quotes, got %q", quote)
	}

	feed, ok := c.opts.Feeds[asset]
	if !ok || feed == "" {
		return decimal.Decimal{}, fmt.Errorf("no aggregator feed configured for %q", asset)
	}

	timeout := c.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := c.getClient(ctx)
	if err != nil {
		return decimal.Decimal{}, err
	}

	addr := common.HexToAddress(feed)

	answer, err := c.callBigInt(ctx, client, addr, "latestRoundData", 1)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if answer.Sign() < 0 {
		return decimal.Decimal{}, errors.New("aggregator returned a negative answer")
	}

	decimalsOut, err := c.callBigInt(ctx, client, addr, "decimals", 0)
	if err != nil {
		return decimal.Decimal{}, err
	}

	return decimal.NewFromBigInt(answer, -int32(decimalsOut.Int64())), nil
}

func (c *Chainlink) callBigInt(ctx context.Context, client *ethclient.Client, addr common.Address, method string, outputIdx int) (*big.Int, error) {
	payload, err := aggregatorABI.Pack(method)
	if err != nil {
		return nil, err
	}

	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return nil, err
	}

	outputs, err := aggregatorABI.Unpack(method, res)
	if err != nil {
		return nil, err
	}
	if len(outputs) <= outputIdx {
		return nil, fmt.Errorf("unexpected %s response", method)
	}

	switch v := outputs[outputIdx].(type) {
	case *big.Int:
		return v, nil
	case uint8:
		return big.NewInt(int64(v)), nil
	default:
		return nil, fmt.Errorf("failed to decode %s output", method)
	}
}

func (c *Chainlink) getClient(ctx context.Context) (*ethclient.Client, error) {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()

	if c.client != nil {
		return c.client, nil
	}

	client, err := ethclient.DialContext(ctx, c.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	c.client = client
	return client, nil
}

var _ SpotPriceFetcher = (*Chainlink)(nil)
