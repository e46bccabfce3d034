package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/strefethen/bose-hub-go/internal/auth"
)

var (
	tokenSubject string
	tokenExpiry  time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an API bearer token",
	Long: `Mint an HS256 bearer token signed with API_JWT_SECRET. The token is
printed to stdout.`,
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "", "token subject, e.g. the client name (required)")
	tokenCmd.Flags().DurationVar(&tokenExpiry, "expiry", 0, "token lifetime (default API_JWT_EXPIRY)")
	_ = tokenCmd.MarkFlagRequired("subject")

	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	expiry := tokenExpiry
	if expiry <= 0 {
		expiry = time.Duration(cfg.APIJWTExpirySec) * time.Second
	}

	token, err := auth.GenerateToken(cfg.APIJWTSecret, tokenSubject, expiry)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
