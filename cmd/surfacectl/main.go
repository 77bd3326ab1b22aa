package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/pixelrelay/pixelrelay-backend/internal/delivery"
	"github.com/pixelrelay/pixelrelay-backend/internal/surfaces"
	"github.com/pixelrelay/pixelrelay-backend/pkg/config"
	"github.com/pixelrelay/pixelrelay-backend/pkg/db"
	"github.com/pixelrelay/pixelrelay-backend/pkg/logger"
	"github.com/pixelrelay/pixelrelay-backend/pkg/security"
)

// surfacectl registers and retires tracking surfaces. Credentials are
// encrypted before they touch the database, so there is no API route for
// this; it runs where the encryption key lives.
func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "surfacectl"})

	_ = godotenv.Load()

	cmd := flag.String("cmd", "", "surface command: provision|deactivate")
	name := flag.String("name", "", "display name (for provision)")
	publicID := flag.String("public-id", "", "public surface identifier embedded in tracking snippets")
	datasetID := flag.String("dataset-id", "", "destination dataset id (for provision)")
	accessToken := flag.String("access-token", "", "destination access token (for provision)")
	testToken := flag.String("test-token", "", "destination test-mode token (optional)")
	domains := flag.String("domains", "", "comma-separated origin allow list; empty admits every origin")
	flag.Parse()

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	logg = logger.New(logger.Options{
		ServiceName: "surfacectl",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx = logg.WithFields(context.Background(), map[string]any{
		"env": cfg.App.Env,
		"cmd": *cmd,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer dbClient.Close()

	codec, err := security.NewCodec(cfg.Security)
	requireResource(ctx, logg, "security codec", err)

	service, err := surfaces.NewService(surfaces.NewRepository(dbClient.DB()), codec)
	requireResource(ctx, logg, "surface service", err)

	switch *cmd {
	case "provision":
		surface, err := service.Provision(ctx, surfaces.ProvisionInput{
			Name:     *name,
			PublicID: *publicID,
			Credential: delivery.Credential{
				DatasetID:   *datasetID,
				AccessToken: *accessToken,
				TestToken:   *testToken,
			},
			AllowedDomains: splitDomains(*domains),
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "provision failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("provisioned surface %s (%s)\n", surface.PublicID, surface.ID)

	case "deactivate":
		surface, err := service.Deactivate(ctx, *publicID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "deactivate failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("deactivated surface %s (%s)\n", surface.PublicID, surface.ID)

	default:
		fmt.Fprintln(os.Stderr, "unknown -cmd value:", *cmd)
		os.Exit(1)
	}
}

func splitDomains(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var domains []string
	for _, part := range strings.Split(raw, ",") {
		if cleaned := strings.TrimSpace(part); cleaned != "" {
			domains = append(domains, cleaned)
		}
	}
	return domains
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
