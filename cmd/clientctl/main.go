// clientctl manages API clients, webhook endpoints, and document types for
// the intake service.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"
	_ "modernc.org/sqlite"

	"github.com/altvishcoder/complianceapps/internal/admission"
	"github.com/altvishcoder/complianceapps/internal/config"
	"github.com/altvishcoder/complianceapps/internal/db"
)

func main() {
	ctx := context.Background()
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}

	cfg, err := config.LoadForTool()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	dbPath := flag.String("db", cfg.Database.Path, "database path without .sqlite suffix")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	database, err := db.New(strings.TrimSpace(*dbPath))
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer func() {
		if err := database.Close(); err != nil {
			log.Fatalf("close db: %v", err)
		}
	}()

	args := flag.Args()
	switch args[0] {
	case "create-client":
		runCreateClient(ctx, database, args[1:])
	case "set-client-status":
		runSetClientStatus(ctx, database, args[1:])
	case "list-clients":
		runListClients(ctx, database)
	case "create-endpoint":
		runCreateEndpoint(ctx, database, args[1:])
	case "set-endpoint-active":
		runSetEndpointActive(ctx, database, args[1:])
	case "set-document-type":
		runSetDocumentType(ctx, database, args[1:])
	case "list-document-types":
		runListDocumentTypes(ctx, database)
	default:
		log.Fatalf("unknown command %q", args[0])
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: clientctl [-db path] <command> [args]

commands:
  create-client -tenant T -name N          create an API client and print its key once
  set-client-status -id N -status S        set a client active or disabled
  list-clients                             list API clients
  create-endpoint -tenant T -url U [-events E]  register a webhook endpoint
  set-endpoint-active -id N -active BOOL   enable or disable an endpoint
  set-document-type -code C -enabled BOOL  toggle an accepted document type
  list-document-types                      list document types`)
}

func runCreateClient(ctx context.Context, database *db.Database, args []string) {
	fs := flag.NewFlagSet("create-client", flag.ExitOnError)
	tenant := fs.String("tenant", "", "tenant the client submits for")
	name := fs.String("name", "", "human-readable client name")
	fs.Parse(args)

	if strings.TrimSpace(*tenant) == "" || strings.TrimSpace(*name) == "" {
		log.Fatal("create-client requires -tenant and -name")
	}

	key, prefix, hash, err := admission.NewClientKey()
	if err != nil {
		log.Fatalf("generate key: %v", err)
	}

	client, err := database.CreateClient(ctx, db.CreateClientParams{
		Tenant:    strings.TrimSpace(*tenant),
		Name:      strings.TrimSpace(*name),
		KeyPrefix: prefix,
		KeyHash:   hash,
	})
	if err != nil {
		log.Fatalf("create client: %v", err)
	}

	fmt.Printf("Client %d created for tenant %s\n", client.ID, client.Tenant)
	fmt.Printf("API key (shown once, store it now): %s\n", key)
}

func runSetClientStatus(ctx context.Context, database *db.Database, args []string) {
	fs := flag.NewFlagSet("set-client-status", flag.ExitOnError)
	id := fs.Int64("id", 0, "client id")
	status := fs.String("status", "", "active or disabled")
	fs.Parse(args)

	switch *status {
	case db.ClientStatusActive, db.ClientStatusDisabled:
	default:
		log.Fatalf("status must be %q or %q", db.ClientStatusActive, db.ClientStatusDisabled)
	}
	if err := database.SetClientStatus(ctx, *id, *status); err != nil {
		log.Fatalf("set client status: %v", err)
	}
	fmt.Printf("Client %d is now %s\n", *id, *status)
}

func runListClients(ctx context.Context, database *db.Database) {
	clients, err := database.ListClients(ctx)
	if err != nil {
		log.Fatalf("list clients: %v", err)
	}
	for _, client := range clients {
		fmt.Printf("%d\t%s\t%s\t%s\trequests=%d\n",
			client.ID, client.Tenant, client.Name, client.Status, client.RequestCount)
	}
}

func runCreateEndpoint(ctx context.Context, database *db.Database, args []string) {
	fs := flag.NewFlagSet("create-endpoint", flag.ExitOnError)
	tenant := fs.String("tenant", "", "tenant the endpoint belongs to")
	endpointURL := fs.String("url", "", "delivery URL")
	events := fs.String("events", "*", "comma-separated event types, * for all")
	fs.Parse(args)

	if strings.TrimSpace(*tenant) == "" || strings.TrimSpace(*endpointURL) == "" {
		log.Fatal("create-endpoint requires -tenant and -url")
	}

	secret, err := randomHexToken(24)
	if err != nil {
		log.Fatalf("generate secret: %v", err)
	}

	endpoint, err := database.CreateWebhookEndpoint(ctx, db.CreateEndpointParams{
		Tenant:     strings.TrimSpace(*tenant),
		URL:        strings.TrimSpace(*endpointURL),
		Secret:     secret,
		EventTypes: strings.TrimSpace(*events),
	})
	if err != nil {
		log.Fatalf("create endpoint: %v", err)
	}

	fmt.Printf("Endpoint %d created for tenant %s\n", endpoint.ID, endpoint.Tenant)
	fmt.Printf("Signing secret (shown once, store it now): %s\n", secret)
}

func runSetEndpointActive(ctx context.Context, database *db.Database, args []string) {
	fs := flag.NewFlagSet("set-endpoint-active", flag.ExitOnError)
	id := fs.Int64("id", 0, "endpoint id")
	active := fs.Bool("active", true, "whether the endpoint receives deliveries")
	fs.Parse(args)

	if err := database.SetWebhookEndpointActive(ctx, *id, *active); err != nil {
		log.Fatalf("set endpoint active: %v", err)
	}
	fmt.Printf("Endpoint %d active=%v\n", *id, *active)
}

func runSetDocumentType(ctx context.Context, database *db.Database, args []string) {
	fs := flag.NewFlagSet("set-document-type", flag.ExitOnError)
	code := fs.String("code", "", "document type code")
	enabled := fs.Bool("enabled", true, "whether the code is accepted")
	fs.Parse(args)

	if strings.TrimSpace(*code) == "" {
		log.Fatal("set-document-type requires -code")
	}
	if err := database.SetDocumentTypeEnabled(ctx, strings.TrimSpace(*code), *enabled); err != nil {
		log.Fatalf("set document type: %v", err)
	}
	fmt.Printf("Document type %s enabled=%v\n", strings.TrimSpace(*code), *enabled)
}

func runListDocumentTypes(ctx context.Context, database *db.Database) {
	types, err := database.ListDocumentTypes(ctx)
	if err != nil {
		log.Fatalf("list document types: %v", err)
	}
	for _, dt := range types {
		fmt.Printf("%s\t%s\tenabled=%v\n", dt.Code, dt.Name, dt.Enabled)
	}
}

func randomHexToken(size int) (string, error) {
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
