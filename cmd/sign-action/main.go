package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/urfave/cli/v2"

	"github.com/uhyunpark/hlrelay/params"
	"github.com/uhyunpark/hlrelay/pkg/action"
	"github.com/uhyunpark/hlrelay/pkg/crypto"
	"github.com/uhyunpark/hlrelay/pkg/exchange"
	"github.com/uhyunpark/hlrelay/pkg/util"
)

var (
	keyFlag = &cli.StringFlag{
		Name:    "key",
		Aliases: []string{"k"},
		Usage:   "hex private key of the signing wallet",
		EnvVars: []string{"SIGNER_PRIVATE_KEY"},
	}
	networkFlag = &cli.StringFlag{
		Name:    "network",
		Usage:   "Mainnet or Testnet",
		Value:   string(action.Testnet),
		EnvVars: []string{"HYPERLIQUID_NETWORK"},
	}
	nonceFlag = &cli.Uint64Flag{
		Name:  "nonce",
		Usage: "nonce in milliseconds (default: now)",
	}
	submitFlag = &cli.BoolFlag{
		Name:  "submit",
		Usage: "POST the signed envelope to the exchange",
	}
	apiURLFlag = &cli.StringFlag{
		Name:    "api-url",
		Usage:   "exchange base URL used with --submit",
		EnvVars: []string{"HYPERLIQUID_API_URL"},
	}
)

func main() {
	app := &cli.App{
		Name:  "sign-action",
		Usage: "build, sign and verify exchange actions offline",
		Commands: []*cli.Command{
			{
				Name:   "keygen",
				Usage:  "generate a new wallet",
				Action: keygen,
			},
			{
				Name:  "order",
				Usage: "sign a limit order",
				Flags: []cli.Flag{
					keyFlag, networkFlag, nonceFlag, submitFlag, apiURLFlag,
					&cli.IntFlag{Name: "asset", Usage: "asset index", Required: true},
					&cli.BoolFlag{Name: "sell", Usage: "sell instead of buy"},
					&cli.StringFlag{Name: "size", Usage: "order size", Required: true},
					&cli.StringFlag{Name: "price", Usage: "limit price", Required: true},
					&cli.StringFlag{Name: "tif", Usage: "Gtc, Ioc or Alo", Value: string(action.TifGtc)},
					&cli.BoolFlag{Name: "reduce-only"},
					&cli.StringFlag{Name: "cloid", Usage: "client order id, 0x + 32 hex chars"},
					&cli.StringFlag{Name: "vault", Usage: "vault or subaccount address"},
					&cli.BoolFlag{Name: "prefixed", Usage: "0x-prefix r and s in the output"},
				},
				Action: signOrder,
			},
			{
				Name:  "approve-agent",
				Usage: "sign an approval for an API wallet",
				Flags: []cli.Flag{
					keyFlag, networkFlag, nonceFlag, submitFlag, apiURLFlag,
					&cli.StringFlag{Name: "agent", Usage: "API wallet address", Required: true},
					&cli.StringFlag{Name: "name", Usage: "agent name (default: Bot + nonce suffix)"},
					&cli.StringFlag{Name: "signature-chain-id", Value: action.DefaultSignatureChainID},
					&cli.BoolFlag{Name: "typed-data", Usage: "print the EIP-712 payload instead of signing"},
				},
				Action: approveAgent,
			},
			{
				Name:      "verify",
				Usage:     "recover the signer of a signed envelope",
				ArgsUsage: "<envelope.json | ->",
				Flags: []cli.Flag{
					networkFlag,
					&cli.StringFlag{Name: "expect", Usage: "fail unless the signer is this address"},
				},
				Action: verify,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func keygen(c *cli.Context) error {
	signer, err := crypto.GenerateKey()
	if err != nil {
		return err
	}
	fmt.Printf("Address: %s\n", signer.Address().Hex())
	fmt.Printf("Private Key: %s (KEEP SECRET!)\n", signer.PrivateKeyHex())
	return nil
}

func signOrder(c *cli.Context) error {
	signer, network, err := signerAndNetwork(c)
	if err != nil {
		return err
	}
	tif, err := action.ParseTif(c.String("tif"))
	if err != nil {
		return err
	}
	a, err := action.NewOrderAction(action.OrderIntent{
		Asset:      c.Int("asset"),
		IsBuy:      !c.Bool("sell"),
		Size:       c.String("size"),
		Price:      c.String("price"),
		ReduceOnly: c.Bool("reduce-only"),
		Tif:        tif,
		Cloid:      c.String("cloid"),
	})
	if err != nil {
		return err
	}

	nonce := nonceOrNow(c)
	vault := strings.ToLower(c.String("vault"))
	td, err := action.OrderTypedData(a, nonce, vault, nil, network)
	if err != nil {
		return err
	}
	sig, err := crypto.SignTypedData(signer, td)
	if err != nil {
		return err
	}

	style := crypto.Bare
	if c.Bool("prefixed") {
		style = crypto.Prefixed
	}
	env := &exchange.SignedEnvelope{Action: a, Nonce: nonce, Signature: sig.Wire(style)}
	if vault != "" {
		env.VaultAddress = &vault
	}
	return emit(c, env, network)
}

func approveAgent(c *cli.Context) error {
	network, err := action.ParseNetwork(c.String("network"))
	if err != nil {
		return err
	}
	agent := c.String("agent")
	if !common.IsHexAddress(agent) {
		return fmt.Errorf("--agent %q is not an address", agent)
	}
	nonce := nonceOrNow(c)
	a, err := action.NewApproveAgent(network, c.String("signature-chain-id"), common.HexToAddress(agent), c.String("name"), nonce)
	if err != nil {
		return err
	}
	td, err := action.ApproveAgentTypedData(a)
	if err != nil {
		return err
	}

	if c.Bool("typed-data") {
		out, err := crypto.TypedDataJSON(td)
		if err != nil {
			return err
		}
		fmt.Println(out)
		return nil
	}

	signer, _, err := signerAndNetwork(c)
	if err != nil {
		return err
	}
	sig, err := crypto.SignTypedData(signer, td)
	if err != nil {
		return err
	}
	return emit(c, &exchange.SignedEnvelope{Action: a, Nonce: nonce, Signature: sig.Wire(crypto.Prefixed)}, network)
}

func verify(c *cli.Context) error {
	network, err := action.ParseNetwork(c.String("network"))
	if err != nil {
		return err
	}
	raw, err := readInput(c.Args().First())
	if err != nil {
		return err
	}
	var env exchange.SignedEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}

	td, err := action.TypedDataFor(env.Action, env.Nonce, env.Vault(), env.ExpiresAfter, network)
	if err != nil {
		return err
	}
	sig, err := crypto.ParseWire(env.Signature)
	if err != nil {
		return err
	}
	digest, err := crypto.HashTypedData(td)
	if err != nil {
		return err
	}
	recovered, err := crypto.RecoverAddress(digest, sig)
	if err != nil {
		return err
	}

	fmt.Printf("Action: %s\n", env.Action.Kind())
	fmt.Printf("Digest: 0x%x\n", digest)
	fmt.Printf("Signer: %s\n", recovered.Hex())
	if expect := c.String("expect"); expect != "" {
		if !strings.EqualFold(expect, recovered.Hex()) {
			return fmt.Errorf("signer %s does not match expected %s", recovered.Hex(), expect)
		}
		fmt.Println("Matches expected signer")
	}
	return nil
}

func signerAndNetwork(c *cli.Context) (*crypto.Signer, action.Network, error) {
	network, err := action.ParseNetwork(c.String("network"))
	if err != nil {
		return nil, "", err
	}
	key := c.String("key")
	if key == "" {
		return nil, "", fmt.Errorf("--key or SIGNER_PRIVATE_KEY is required")
	}
	signer, err := crypto.FromPrivateKeyHex(key)
	if err != nil {
		return nil, "", err
	}
	return signer, network, nil
}

func nonceOrNow(c *cli.Context) uint64 {
	if n := c.Uint64("nonce"); n != 0 {
		return n
	}
	return util.NonceMillis(util.RealClock{})
}

// emit prints the envelope and, with --submit, sends it.
func emit(c *cli.Context, env *exchange.SignedEnvelope, network action.Network) error {
	out, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	if !c.Bool("submit") {
		return nil
	}

	url := c.String("api-url")
	if url == "" {
		url = params.MainnetAPIURL
		if network == action.Testnet {
			url = params.TestnetAPIURL
		}
	}
	resp, err := exchange.NewClient(url).Submit(context.Background(), env)
	if resp != nil {
		body, _ := json.MarshalIndent(resp, "", "  ")
		fmt.Println(string(body))
	}
	return err
}

func readInput(path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}
