// Command vaultctl is the operator tool of a vault node.
//
//	vaultctl token  -user did:U -app did:A [-c node.yml]
//	vaultctl settle -order ID -tx TXID [-node http://localhost:5000] [-c node.yml]
//
// token mints an access token with the node secret; settle marks a payment
// order paid through the admin endpoint of a running node.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/dmitrijs2005/vaultnode/internal/flagx"
	"github.com/dmitrijs2005/vaultnode/internal/logging"
	"github.com/dmitrijs2005/vaultnode/internal/server/auth"
	"github.com/dmitrijs2005/vaultnode/internal/server/config"
	"github.com/dmitrijs2005/vaultnode/internal/server/models"
	"github.com/dmitrijs2005/vaultnode/internal/timex"
	"go.sia.tech/jape"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: vaultctl token|settle [flags]")
		os.Exit(2)
	}
	cmd, args := os.Args[1], os.Args[2:]

	cfg, err := config.LoadConfig(args)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.NewTextLogger(os.Stderr, slog.LevelInfo)
	switch cmd {
	case "token":
		err = token(cfg, args, logger)
	case "settle":
		err = settle(cfg, args, logger)
	default:
		err = fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func token(cfg *config.Config, args []string, logger logging.Logger) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	user := fs.String("user", "", "user DID")
	app := fs.String("app", "", "application DID")
	if err := fs.Parse(flagx.FilterArgs(args, []string{"-user", "-app"})); err != nil {
		return err
	}
	if *user == "" || *app == "" {
		return fmt.Errorf("-user and -app are required")
	}

	issuer := auth.NewIssuer([]byte(cfg.SecretKey), timex.SystemClock{},
		cfg.AccessTokenValidityDuration, cfg.TransferTokenValidityDuration, cfg.BackupTokenValidityDuration)
	tok, err := issuer.AccessToken(*user, *app)
	if err != nil {
		return err
	}
	logger.Info(context.Background(), "access token minted", "user", *user, "app", *app,
		"valid_for", cfg.AccessTokenValidityDuration.String())
	fmt.Println(tok)
	return nil
}

func settle(cfg *config.Config, args []string, logger logging.Logger) error {
	fs := flag.NewFlagSet("settle", flag.ContinueOnError)
	node := fs.String("node", cfg.NodeID, "node base URL")
	order := fs.String("order", "", "order id")
	tx := fs.String("tx", "", "settled transaction id")
	if err := fs.Parse(flagx.FilterArgs(args, []string{"-node", "-order", "-tx"})); err != nil {
		return err
	}
	if *order == "" || *tx == "" {
		return fmt.Errorf("-order and -tx are required")
	}

	api := &jape.Client{BaseURL: *node, Password: cfg.AdminPassword}
	var o models.Order
	req := map[string]string{"transaction_id": *tx}
	if err := api.POST("/internal_payment/settle/"+*order, req, &o); err != nil {
		return err
	}
	logger.Info(context.Background(), "order settled", "order", o.ID, "state", string(o.State), "node", *node)
	return nil
}
