package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Sternrassler/crm-company-cache/pkg/cache"
	"github.com/Sternrassler/crm-company-cache/pkg/endpoint"
	"github.com/Sternrassler/crm-company-cache/pkg/logging"
	"github.com/spf13/cobra"
)

// snapshotQuota bounds the local snapshot directory.
const snapshotQuota = 5 << 20

var openSlot = func(ttl time.Duration) (*cache.Slot, error) {
	storage, err := cache.NewDirStorage(cacheDir, snapshotQuota)
	if err != nil {
		return nil, fmt.Errorf("opening snapshot directory: %w", err)
	}
	slot := cache.NewSlot(storage, ttl)
	slot.SetLogger(logging.NewLogger("crmctl"))
	return slot, nil
}

// --- fetch ---

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch the company list",
	Long: `Fetch the company list from crm-proxy.

A fresh local snapshot of the same request is used instead of calling the
proxy, unless --no-cache is given. Successful complete results replace the
snapshot.

Examples:
  crmctl fetch
  crmctl fetch --search "ООО" --json
  crmctl fetch --webhook https://example.bitrix24.ru/rest/1/token/crm.company.list --max 500`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		webhook, _ := cmd.Flags().GetString("webhook")
		maxRecords, _ := cmd.Flags().GetInt("max")
		maxRequests, _ := cmd.Flags().GetInt("max-requests")
		timeout, _ := cmd.Flags().GetDuration("timeout")
		skipCache, _ := cmd.Flags().GetBool("no-cache")
		jsonOut, _ := cmd.Flags().GetBool("json")
		search, _ := cmd.Flags().GetString("search")
		ttl, _ := cmd.Flags().GetDuration("snapshot-ttl")

		if timeout > 0 && timeout < time.Second {
			return fmt.Errorf("--timeout must be at least 1s")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		slot, err := openSlot(ttl)
		if err != nil {
			return err
		}

		params := fetchParams{Webhook: webhook, Max: maxRecords, MaxRequests: maxRequests, Timeout: timeout}
		snapshotURL := client.companiesURL(params)

		var (
			records []json.RawMessage
			total   int
			source  string
		)
		if snap, ok := slot.Load(snapshotURL); ok && !skipCache {
			records, total = snap.Data.Companies, snap.Data.Total
			source = fmt.Sprintf("local snapshot, %s old", time.Since(snap.StoredAt()).Round(time.Second))
		} else {
			resp, err := client.fetchCompanies(cmd.Context(), params)
			if err != nil {
				return err
			}
			records, total = resp.Companies, resp.Total
			source = "crm-proxy"
			if resp.Cached {
				source = "crm-proxy cache"
			}

			if resp.Partial {
				printWarning("Incomplete result: %s", resp.Warning)
			} else if err := slot.Save(snapshotURL, records, total); err != nil {
				printWarning("Local snapshot not saved: %v", err)
			}
		}

		shown := filterCompanies(records, search)
		if jsonOut {
			return writeJSON(cmd.OutOrStdout(), shown, total)
		}
		if err := writeTable(cmd.OutOrStdout(), shown); err != nil {
			return err
		}
		printSuccess("Loaded %d companies (%s)", total, source)
		if search != "" {
			printStatus("Matching", "%d", len(shown))
		}
		return nil
	},
}

func init() {
	fetchCmd.Flags().String("webhook", "", "webhook URL to use instead of the proxy default")
	fetchCmd.Flags().Int("max", 0, "maximum number of companies")
	fetchCmd.Flags().Int("max-requests", 0, "maximum number of page requests")
	fetchCmd.Flags().Duration("timeout", 0, "overall time budget for the remote fetch")
	fetchCmd.Flags().Bool("no-cache", false, "ignore the local snapshot")
	fetchCmd.Flags().Bool("json", false, "print JSON instead of a table")
	fetchCmd.Flags().String("search", "", "only show companies whose title contains this text")
	fetchCmd.Flags().Duration("snapshot-ttl", cache.DefaultSlotTTL, "how long the local snapshot stays fresh")
}

// --- validate ---

var validateCmd = &cobra.Command{
	Use:   "validate <webhook-url>",
	Short: "Check a webhook URL without calling it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v := endpoint.NewValidator(logging.Discard())
		ep, err := v.Validate(args[0])
		if err != nil {
			return err
		}

		printSuccess("Webhook URL is valid")
		printStatus("Host", "%s", ep.Host())
		printStatus("Cache key", "%s", ep.Key())
		if v.IsVendorHost(ep.Host()) {
			printStatus("Portal", "Bitrix24 cloud")
		} else {
			printWarning("Host is not a known Bitrix24 domain, assuming a self-hosted portal")
		}
		return nil
	},
}

// --- cache ---

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the local snapshot",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove the local snapshot",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		slot, err := openSlot(0)
		if err != nil {
			return err
		}
		if err := slot.Clear(); err != nil {
			return err
		}
		printSuccess("Local snapshot cleared")
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheClearCmd)
}
