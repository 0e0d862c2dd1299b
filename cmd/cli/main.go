package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/term"

	apiclient "github.com/JenilSavalia/vercel-octo-sniffle/pkg/api/client"
)

type cliConfig struct {
	APIBaseURL  string `json:"api_base_url"`
	AccessToken string `json:"access_token"`
}

var buildVersion = "dev"

const defaultAPIBase = "http://localhost:3000"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "login":
		err = commandLogin(args)
	case "deploy":
		err = commandDeploy(args)
	case "status":
		err = commandStatus(args)
	case "logs":
		err = commandLogs(args)
	case "version", "--version", "-v":
		printVersion()
		return
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func commandLogin(args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	token := fs.String("token", "", "Access token (supply to avoid prompt)")
	apiBase := fs.String("api", "", "API base URL (default "+defaultAPIBase+")")
	fs.Parse(args)

	secret := strings.TrimSpace(*token)
	if secret == "" {
		fmt.Print("Access token: ")
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Print("\n")
		if err != nil {
			return fmt.Errorf("read token: %w", err)
		}
		secret = strings.TrimSpace(string(raw))
	}
	if secret == "" {
		return errors.New("an access token is required")
	}

	cfg, _ := loadConfig()
	if strings.TrimSpace(*apiBase) != "" {
		cfg.APIBaseURL = *apiBase
	} else if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultAPIBase
	}
	cfg.AccessToken = secret
	if err := saveConfig(cfg); err != nil {
		return err
	}
	fmt.Println("token stored")
	return nil
}

func commandDeploy(args []string) error {
	fs := flag.NewFlagSet("deploy", flag.ExitOnError)
	repo := fs.String("repo", "", "Repository URL")
	name := fs.String("name", "", "Optional deployment name")
	depType := fs.String("type", "frontend", "Deployment type")
	watch := fs.Bool("watch", false, "Poll status until the build finishes")
	fs.Parse(args)

	if strings.TrimSpace(*repo) == "" {
		return errors.New("--repo is required")
	}

	client, token, err := authedClient()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	resp, err := client.Deploy(ctx, token, apiclient.DeployInput{
		RepoURL: *repo,
		Name:    *name,
		Type:    *depType,
	})
	if err != nil {
		return err
	}
	fmt.Printf("deployment accepted: %s status=%s\n", resp.ID, resp.Status)

	if !*watch {
		return nil
	}
	return watchStatus(ctx, client, resp.ID)
}

func commandStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	id := fs.String("id", "", "Deployment identifier")
	watch := fs.Bool("watch", false, "Poll until the build finishes")
	fs.Parse(args)

	if strings.TrimSpace(*id) == "" {
		return errors.New("--id is required")
	}

	client, _, err := authedClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	if *watch {
		return watchStatus(ctx, client, *id)
	}
	resp, err := client.Status(ctx, *id)
	if err != nil {
		return err
	}
	fmt.Printf("%s\t%s\n", resp.ID, resp.Status)
	return nil
}

func watchStatus(ctx context.Context, client *apiclient.Client, id string) error {
	last := ""
	for {
		resp, err := client.Status(ctx, id)
		if err != nil {
			return err
		}
		if resp.Status != last {
			fmt.Printf("%s\t%s\n", id, resp.Status)
			last = resp.Status
		}
		if resp.Status == "deployed" || resp.Status == "failed" {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

func commandLogs(args []string) error {
	fs := flag.NewFlagSet("logs", flag.ExitOnError)
	id := fs.String("id", "", "Deployment identifier")
	follow := fs.Bool("follow", false, "Stream live logs instead of replaying history")
	limit := fs.Int("limit", 100, "Maximum number of lines to replay")
	offset := fs.Int("offset", 0, "Replay offset")
	fs.Parse(args)

	if strings.TrimSpace(*id) == "" {
		return errors.New("--id is required")
	}

	client, token, err := authedClient()
	if err != nil {
		return err
	}

	if *follow {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		return client.StreamLogs(ctx, *id, func(line string) {
			fmt.Println(line)
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	entries, err := client.FetchLogs(ctx, token, *id, *limit, *offset)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		fmt.Printf("%s\t[%s]\t%s\n", entry.CreatedAt.Format(time.RFC3339), entry.Source, entry.Message)
	}
	return nil
}

func authedClient() (*apiclient.Client, string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, "", err
	}
	token := strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		return nil, "", errors.New("please login first using 'octo login'")
	}
	client, err := apiclient.New(cfg.APIBaseURL)
	if err != nil {
		return nil, "", err
	}
	return client, token, nil
}

func loadConfig() (cliConfig, error) {
	path, err := configPath()
	if err != nil {
		return cliConfig{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cliConfig{APIBaseURL: defaultAPIBase}, nil
		}
		return cliConfig{}, err
	}
	var cfg cliConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cliConfig{}, err
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultAPIBase
	}
	return cfg, nil
}

func saveConfig(cfg cliConfig) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func configPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "octo", "config.json"), nil
}

func printUsage() {
	fmt.Printf("octo CLI %s\n\n", buildVersion)
	fmt.Print(`Usage:
	octo login [--token <jwt>] [--api http://localhost:3000]
	octo deploy --repo <url> [--name <name>] [--type frontend] [--watch]
	octo status --id <deployment-id> [--watch]
	octo logs --id <deployment-id> [--follow] [--limit N] [--offset N]
	octo version
`)
}

func printVersion() {
	fmt.Println(strings.TrimSpace(buildVersion))
}
