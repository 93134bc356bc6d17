package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"go.uber.org/fx"
	"golang.org/x/term"

	"github.com/einfra-labs/chatbox/internal/app"
	"github.com/einfra-labs/chatbox/internal/config"
	"github.com/einfra-labs/chatbox/internal/rest"
	"github.com/einfra-labs/chatbox/internal/session"
)

func main() {
	accountFlag := flag.String("account", "", "account name (overrides config default)")
	serverFlag := flag.String("server", "", "server base URL (overrides config)")
	flag.Parse()

	account := session.Resolve(*accountFlag)
	if err := session.ValidateName(account); err != nil {
		fatal(err)
	}
	serverURL := resolveServer(*serverFlag)

	switch flag.Arg(0) {
	case "login":
		if err := runLogin(account, serverURL); err != nil {
			fatal(err)
		}
		fmt.Println("signed in")
	case "logout":
		if err := session.ClearCredentials(session.CredentialsPath(account)); err != nil {
			fatal(err)
		}
		fmt.Println("signed out")
	case "":
		creds, err := session.LoadCredentials(session.CredentialsPath(account))
		if err != nil {
			fatal(err)
		}
		if !creds.SignedIn() {
			if err := runLogin(account, serverURL); err != nil {
				fatal(err)
			}
		}
		fx.New(
			app.Module(app.Params{Account: account, ServerURL: serverURL}),
			fx.NopLogger,
		).Run()
	default:
		fatal(fmt.Errorf("unknown command %q (want login, logout or none)", flag.Arg(0)))
	}
}

func resolveServer(override string) string {
	if override != "" {
		return override
	}
	cfg, err := config.Load(session.ConfigPath())
	if err == nil && cfg.ServerURL != "" {
		return cfg.ServerURL
	}
	return config.DefaultServerURL
}

// runLogin prompts for credentials, exchanges them with the server and
// persists the issued token and private key for this account.
func runLogin(account, serverURL string) error {
	reader := bufio.NewReader(os.Stdin)
	fmt.Print("email: ")
	email, err := reader.ReadString('\n')
	if err != nil {
		return err
	}
	fmt.Print("password: ")
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return err
	}

	client := rest.New(serverURL, nil)
	result, err := client.Login(context.Background(), strings.TrimSpace(email), string(password))
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}

	if err := session.EnsureDir(account); err != nil {
		return err
	}
	return session.SaveCredentials(session.CredentialsPath(account), &session.Credentials{
		Token:      result.Token,
		PrivateKey: result.PrivateKey,
	})
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
