package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"github.com/alanyoungcy/cascadebot/internal/app"
	s3blob "github.com/alanyoungcy/cascadebot/internal/blob/s3"
	"github.com/alanyoungcy/cascadebot/internal/cache/redis"
	"github.com/alanyoungcy/cascadebot/internal/chain"
	"github.com/alanyoungcy/cascadebot/internal/config"
	"github.com/alanyoungcy/cascadebot/internal/domain"
	"github.com/alanyoungcy/cascadebot/internal/filter"
	"github.com/alanyoungcy/cascadebot/internal/signal"
)

var signalTx string

// signalCmd shows what the dispatcher would do with one transaction
// without sending anything.
var signalCmd = &cobra.Command{
	Use:   "signal",
	Short: "Resolve a transaction and print its filter decision and signal",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !isTxHash(signalTx) {
			return fmt.Errorf("--tx must be a 0x-prefixed 32-byte hash, got %q", signalTx)
		}
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		client, err := chain.Dial(ctx, cfg.Chain.RPCURL, cfg.Chain.ChainID, newLogger(cfg.LogLevel))
		if err != nil {
			return err
		}
		defer client.Close()

		tx, err := client.PendingTx(ctx, common.HexToHash(signalTx))
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("transaction %s not found", signalTx)
		}
		if err != nil {
			return err
		}

		var seen seenLookup
		if cfg.Dedup.Backend == config.DedupRedis && cfg.Redis.Enabled {
			rc, err := app.NewRedisClient(ctx, cfg.Redis)
			if err != nil {
				return err
			}
			defer rc.Close()
			seen = redis.NewSeenSet(rc, cfg.Dedup.KeyPrefix)
		}
		return describeSignal(ctx, cmd.OutOrStdout(), cfg, tx, seen)
	},
}

// seenLookup reports whether a signal hash is already recorded without
// recording it.
type seenLookup interface {
	Contains(ctx context.Context, hash common.Hash) (bool, error)
}

// describeSignal writes the filter decision for tx and, when accepted, the
// signal text, hash and royalty tier. With a shared seen set it also says
// whether the signal was already dispatched.
func describeSignal(ctx context.Context, w io.Writer, cfg *config.Config, tx domain.PendingTx, seen seenLookup) error {
	rules, err := cfg.Rules()
	if err != nil {
		return err
	}
	codec, err := cfg.Codec()
	if err != nil {
		return err
	}
	policy, err := cfg.RoyaltyPolicy()
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "tx:      %s\n", tx.Hash.Hex())
	if reason := rules.Check(tx); reason != filter.Accepted {
		fmt.Fprintf(w, "filter:  rejected (%s)\n", reason)
		return nil
	}
	fmt.Fprintln(w, "filter:  accepted")

	sig := codec.Build(tx)
	tier := policy.TierFor(tx.ValueOrZero())
	fmt.Fprintf(w, "signal:  %s\n", sig.Text)
	fmt.Fprintf(w, "hash:    %s\n", sig.Hash.Hex())
	fmt.Fprintf(w, "royalty: %s (%d bps)\n", tier.Name, tier.Bps)

	if seen == nil {
		fmt.Fprintln(w, "seen:    unknown (no shared seen set)")
		return nil
	}
	ok, err := seen.Contains(ctx, sig.Hash)
	if err != nil {
		return err
	}
	if ok {
		fmt.Fprintln(w, "seen:    yes, already dispatched")
	} else {
		fmt.Fprintln(w, "seen:    no")
	}
	return nil
}

func isTxHash(s string) bool {
	b, err := hexutil.Decode(s)
	return err == nil && len(b) == common.HashLength
}

var archiveYear, archiveMonth int

var archivesCmd = &cobra.Command{
	Use:   "archives",
	Short: "List archived signal ledger objects in the S3 bucket",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		client, err := app.NewS3Client(ctx, cfg.S3)
		if err != nil {
			return err
		}
		return printArchives(ctx, cmd.OutOrStdout(), s3blob.NewReader(client), archiveYear, archiveMonth)
	},
}

func printArchives(ctx context.Context, w io.Writer, r domain.BlobReader, year, month int) error {
	infos, err := s3blob.ListArchives(ctx, r, year, month)
	if err != nil {
		return err
	}
	var total int64
	for _, info := range infos {
		fmt.Fprintf(w, "%s\t%d\t%s\n", info.Path, info.Size, info.LastModified.UTC().Format(time.RFC3339))
		total += info.Size
	}
	fmt.Fprintf(w, "%d objects, %d bytes\n", len(infos), total)
	return nil
}

var signalHashCmd = &cobra.Command{
	Use:   "signal-hash <text>",
	Short: "Print the Keccak-256 hash of a signal text",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), signal.Hash(args[0]).Hex())
	},
}

var checkConfigCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Validate the configuration and print it with secrets redacted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		return toml.NewEncoder(cmd.OutOrStdout()).Encode(config.RedactedConfig(cfg))
	},
}

func init() {
	signalCmd.Flags().StringVar(&signalTx, "tx", "", "transaction hash to inspect")
	_ = signalCmd.MarkFlagRequired("tx")
	rootCmd.AddCommand(signalCmd)
	rootCmd.AddCommand(signalHashCmd)
	rootCmd.AddCommand(checkConfigCmd)

	archivesCmd.Flags().IntVar(&archiveYear, "year", 0, "only list this year")
	archivesCmd.Flags().IntVar(&archiveMonth, "month", 0, "only list this month (requires --year)")
	rootCmd.AddCommand(archivesCmd)
}
