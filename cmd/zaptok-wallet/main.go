package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/silentius-satoshi/ZapTok-sub006/cashu"
	"github.com/silentius-satoshi/ZapTok-sub006/cashu/nuts/nut05"
	"github.com/silentius-satoshi/ZapTok-sub006/nutzap"
	"github.com/silentius-satoshi/ZapTok-sub006/signer"
	"github.com/silentius-satoshi/ZapTok-sub006/wallet"
)

var w *wallet.Wallet

func walletConfig() wallet.Config {
	path := setWalletPath()
	config := wallet.Config{WalletPath: path, CurrentMintURL: "http://127.0.0.1:3338"}

	envPath := filepath.Join(path, ".env")
	if _, err := os.Stat(envPath); err != nil {
		wd, err := os.Getwd()
		if err != nil {
			envPath = ""
		} else {
			envPath = filepath.Join(wd, ".env")
		}
	}
	if len(envPath) > 0 {
		godotenv.Load(envPath)
	}

	if mintURL := os.Getenv("MINT_URL"); len(mintURL) > 0 {
		config.CurrentMintURL = mintURL
	}
	if os.Getenv("WALLET_DEBUG") == "true" {
		logger, err := zap.NewDevelopment()
		if err == nil {
			config.Logger = logger
		}
	}

	return config
}

func setWalletPath() string {
	homedir, err := os.UserHomeDir()
	if err != nil {
		log.Fatal(err)
	}

	path := filepath.Join(homedir, ".zaptok", "wallet")
	if err = os.MkdirAll(path, 0700); err != nil {
		log.Fatal(err)
	}
	return path
}

func setupWallet(ctx *cli.Context) error {
	var err error
	w, err = wallet.LoadWallet(walletConfig())
	if err != nil {
		printErr(err)
	}
	return nil
}

func main() {
	app := &cli.App{
		Name:  "zaptok-wallet",
		Usage: "ecash wallet for zaptok",
		Commands: []*cli.Command{
			balanceCmd,
			mintCmd,
			sendCmd,
			receiveCmd,
			payCmd,
			nutzapCmd,
			nutzapInfoCmd,
			redeemNutzapsCmd,
			mintInfoCmd,
			recoverCmd,
			mnemonicCmd,
			restoreCmd,
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

var balanceCmd = &cli.Command{
	Name:   "balance",
	Before: setupWallet,
	Action: getBalance,
}

func getBalance(ctx *cli.Context) error {
	balanceByMints := w.GetBalanceByMints()
	fmt.Printf("%v sats\n", w.GetBalance())
	if len(balanceByMints) > 1 {
		for mint, balance := range balanceByMints {
			fmt.Printf("  %v: %v sats\n", mint, balance)
		}
	}
	return nil
}

const quoteFlag = "quote"

var mintCmd = &cli.Command{
	Name:  "mint",
	Usage: "request an invoice to mint ecash, or claim a paid one",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  quoteFlag,
			Usage: "claim the ecash for a paid mint quote",
		},
	},
	Before: setupWallet,
	Action: mint,
}

func mint(ctx *cli.Context) error {
	if ctx.IsSet(quoteFlag) {
		amount, err := w.CheckAndClaim(ctx.Context, ctx.String(quoteFlag))
		if err != nil {
			printErr(err)
		}
		fmt.Printf("%v sats minted\n", amount)
		return nil
	}

	args := ctx.Args()
	if args.Len() < 1 {
		printErr(errors.New("specify an amount to mint"))
	}
	amount, err := strconv.ParseUint(args.First(), 10, 64)
	if err != nil {
		printErr(errors.New("invalid amount"))
	}

	mintResponse, err := w.RequestMint(ctx.Context, amount)
	if err != nil {
		printErr(err)
	}

	fmt.Printf("invoice: %v\n\n", mintResponse.Request)
	fmt.Printf("after paying the invoice, claim the ecash with: mint --quote %v\n", mintResponse.Quote)
	return nil
}

const (
	mintFlag = "mint"
	lockFlag = "lock"
)

var sendCmd = &cli.Command{
	Name:  "send",
	Usage: "create a token for the given amount",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  mintFlag,
			Usage: "mint to send from, defaults to the current mint",
		},
		&cli.StringFlag{
			Name:  lockFlag,
			Usage: "lock the token to this public key",
		},
	},
	Before: setupWallet,
	Action: send,
}

func send(ctx *cli.Context) error {
	args := ctx.Args()
	if args.Len() < 1 {
		printErr(errors.New("specify an amount to send"))
	}
	amount, err := strconv.ParseUint(args.First(), 10, 64)
	if err != nil {
		printErr(err)
	}

	mintURL := w.CurrentMint()
	if ctx.IsSet(mintFlag) {
		mintURL = ctx.String(mintFlag)
	}

	var token cashu.Token
	if ctx.IsSet(lockFlag) {
		lockKey, err := parsePubkey(ctx.String(lockFlag))
		if err != nil {
			printErr(err)
		}
		token, err = w.SendToPubkey(ctx.Context, amount, mintURL, lockKey, true)
		if err != nil {
			printErr(err)
		}
	} else {
		token, err = w.Send(ctx.Context, amount, mintURL, true)
		if err != nil {
			printErr(err)
		}
	}

	tokenString, err := token.Serialize()
	if err != nil {
		printErr(err)
	}
	fmt.Printf("%v\n", tokenString)
	return nil
}

var receiveCmd = &cli.Command{
	Name:   "receive",
	Usage:  "redeem a token",
	Before: setupWallet,
	Action: receive,
}

func receive(ctx *cli.Context) error {
	args := ctx.Args()
	if args.Len() < 1 {
		printErr(errors.New("cashu token not provided"))
	}

	token, err := cashu.DecodeToken(args.First())
	if err != nil {
		printErr(err)
	}

	amount, err := w.Receive(ctx.Context, token)
	if err != nil {
		printErr(err)
	}

	fmt.Printf("%v sats received\n", amount)
	return nil
}

var payCmd = &cli.Command{
	Name:  "pay",
	Usage: "pay a lightning invoice with ecash",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  mintFlag,
			Usage: "mint to pay from, defaults to the current mint",
		},
	},
	Before: setupWallet,
	Action: pay,
}

func pay(ctx *cli.Context) error {
	args := ctx.Args()
	if args.Len() < 1 {
		printErr(errors.New("specify a lightning invoice to pay"))
	}

	mintURL := w.CurrentMint()
	if ctx.IsSet(mintFlag) {
		mintURL = ctx.String(mintFlag)
	}

	// a configured signer may carry its own payment rail
	var activeSigner signer.Signer
	if nostrSigner, err := signerFromEnv(); err == nil {
		activeSigner = nostrSigner
	}

	result, err := w.PayInvoice(ctx.Context, args.First(), mintURL, activeSigner)
	if err != nil {
		printErr(err)
	}

	if result.State == nut05.Pending {
		fmt.Printf("payment pending, check later with quote %v\n", result.QuoteId)
		return nil
	}
	fmt.Printf("invoice paid, preimage: %v\n", result.Preimage)
	return nil
}

const (
	eventFlag   = "event"
	commentFlag = "comment"
)

var nutzapCmd = &cli.Command{
	Name:  "nutzap",
	Usage: "send ecash to a nostr pubkey",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  eventFlag,
			Usage: "id of the event being tipped",
		},
		&cli.StringFlag{
			Name:  commentFlag,
			Usage: "comment to attach",
		},
	},
	Before: setupWallet,
	Action: sendNutzap,
}

func sendNutzap(ctx *cli.Context) error {
	args := ctx.Args()
	if args.Len() < 2 {
		printErr(errors.New("usage: nutzap <pubkey> <amount>"))
	}
	recipient := args.Get(0)
	amount, err := strconv.ParseUint(args.Get(1), 10, 64)
	if err != nil {
		printErr(err)
	}

	handler, err := nutzapHandler(ctx.Context)
	if err != nil {
		printErr(err)
	}

	event, err := handler.Send(ctx.Context, recipient, amount,
		ctx.String(eventFlag), ctx.String(commentFlag))
	if err != nil {
		printErr(err)
	}

	fmt.Printf("nutzap sent: %v\n", event.ID)
	return nil
}

var nutzapInfoCmd = &cli.Command{
	Name:   "nutzap-info",
	Usage:  "announce this wallet so others can nutzap it",
	Before: setupWallet,
	Action: publishNutzapInfo,
}

func publishNutzapInfo(ctx *cli.Context) error {
	handler, err := nutzapHandler(ctx.Context)
	if err != nil {
		printErr(err)
	}

	event, err := handler.PublishInfo(ctx.Context, relaysFromEnv())
	if err != nil {
		printErr(err)
	}

	fmt.Printf("announcement published: %v\n", event.ID)
	return nil
}

var redeemNutzapsCmd = &cli.Command{
	Name:   "redeem-nutzaps",
	Usage:  "claim nutzaps sent to this wallet",
	Before: setupWallet,
	Action: redeemNutzaps,
}

func redeemNutzaps(ctx *cli.Context) error {
	handler, err := nutzapHandler(ctx.Context)
	if err != nil {
		printErr(err)
	}

	amount, err := handler.RedeemAll(ctx.Context, 0)
	if err != nil {
		printErr(err)
	}

	fmt.Printf("%v sats redeemed\n", amount)
	return nil
}

func nutzapHandler(ctx context.Context) (*nutzap.Handler, error) {
	nostrSigner, err := signerFromEnv()
	if err != nil {
		return nil, err
	}
	transport, err := nutzap.NewRelayTransport(ctx, relaysFromEnv())
	if err != nil {
		return nil, err
	}
	return nutzap.NewHandler(w, transport, nostrSigner, nil), nil
}

func signerFromEnv() (signer.Signer, error) {
	secretKey := os.Getenv("NOSTR_SECRET_KEY")
	if secretKey == "" {
		return nil, errors.New("NOSTR_SECRET_KEY not set")
	}
	keyBytes, err := hex.DecodeString(secretKey)
	if err != nil || len(keyBytes) != 32 {
		return nil, errors.New("NOSTR_SECRET_KEY is not a 32-byte hex key")
	}
	key, _ := btcec.PrivKeyFromBytes(keyBytes)
	return signer.NewLocalSigner(key), nil
}

func relaysFromEnv() []string {
	relaysEnv := os.Getenv("RELAYS")
	if relaysEnv == "" {
		return []string{"wss://relay.damus.io", "wss://nos.lol"}
	}
	var relays []string
	for _, relay := range strings.Split(relaysEnv, ",") {
		if relay = strings.TrimSpace(relay); relay != "" {
			relays = append(relays, relay)
		}
	}
	return relays
}

var mintInfoCmd = &cli.Command{
	Name:  "mint-info",
	Usage: "show information about a mint",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  mintFlag,
			Usage: "mint to query, defaults to the current mint",
		},
	},
	Before: setupWallet,
	Action: mintInfo,
}

func mintInfo(ctx *cli.Context) error {
	mintURL := w.CurrentMint()
	if ctx.IsSet(mintFlag) {
		mintURL = ctx.String(mintFlag)
	}

	info, err := w.MintInfo(ctx.Context, mintURL)
	if err != nil {
		printErr(err)
	}

	fmt.Printf("name: %v\nversion: %v\n", info.Name, info.Version)
	if info.Description != "" {
		fmt.Printf("description: %v\n", info.Description)
	}
	return nil
}

var recoverCmd = &cli.Command{
	Name:   "recover",
	Usage:  "settle transactions interrupted by a crash",
	Before: setupWallet,
	Action: recoverPending,
}

func recoverPending(ctx *cli.Context) error {
	result, err := w.RecoverPending(ctx.Context)
	if err != nil {
		printErr(err)
	}

	dropped, err := w.DropExpiredPending()
	if err != nil {
		printErr(err)
	}

	fmt.Printf("%v settled, %v still pending, %v expired quotes dropped\n",
		len(result.Settled), len(result.StillPending), dropped)
	return nil
}

var mnemonicCmd = &cli.Command{
	Name:   "mnemonic",
	Usage:  "print the wallet's seed phrase",
	Before: setupWallet,
	Action: mnemonic,
}

func mnemonic(ctx *cli.Context) error {
	fmt.Println(w.Mnemonic())
	return nil
}

const fileFlag = "file"

var restoreCmd = &cli.Command{
	Name:  "restore",
	Usage: "restore a wallet from a backup file, or write one with --backup",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     fileFlag,
			Usage:    "backup file to read or write",
			Required: true,
		},
		&cli.BoolFlag{
			Name:  "backup",
			Usage: "write a backup instead of restoring",
		},
	},
	Before: setupWallet,
	Action: restore,
}

func restore(ctx *cli.Context) error {
	path := ctx.String(fileFlag)

	if ctx.Bool("backup") {
		data, err := w.Backup()
		if err != nil {
			printErr(err)
		}
		if err := os.WriteFile(path, data, 0600); err != nil {
			printErr(err)
		}
		fmt.Printf("backup written to %v\n", path)
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		printErr(err)
	}
	if err := w.RestoreBackup(data); err != nil {
		printErr(err)
	}
	fmt.Println("wallet restored")
	return nil
}

func parsePubkey(key string) (*btcec.PublicKey, error) {
	keyBytes, err := hex.DecodeString(key)
	if err != nil {
		return nil, fmt.Errorf("invalid public key: %v", err)
	}
	return btcec.ParsePubKey(keyBytes)
}

func printErr(msg error) {
	fmt.Println(msg.Error())
	os.Exit(0)
}
