package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/docintel/internal/clustering"
	"github.com/kalambet/docintel/internal/config"
	"github.com/kalambet/docintel/internal/rag"
	"github.com/kalambet/docintel/internal/storage"
)

// --- upload ---

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a PDF or text file for ingestion",
	Long: `Upload a PDF or text file for ingestion.

The server stores the file, queues it, and later embeds and clusters its
pages. Use "docintel status" to watch progress.

Examples:
  docintel upload ./biology.pdf
  docintel upload ./notes.txt`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.upload(cmd.Context(), "/documents", args[0])
		if err != nil {
			return err
		}

		var doc storage.Document
		if err := decodeJSON(resp, &doc); err != nil {
			return err
		}

		printSuccess("Queued document %s (%s)", doc.ID, doc.Name)
		return nil
	},
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question about uploaded documents",
	Long: `Ask a question about uploaded documents.

Examples:
  docintel ask --doc 6f1c... "What does the mitochondria do?"
  docintel ask --chat 0b7e... "And the ribosome?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		question := strings.Join(args, " ")
		docs, _ := cmd.Flags().GetStringSlice("doc")
		chatID, _ := cmd.Flags().GetString("chat")
		if len(docs) == 0 && chatID == "" {
			return fmt.Errorf("one of --doc or --chat is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path, body := "/ask", map[string]any{"question": question, "document_ids": docs}
		if chatID != "" {
			path, body = "/chats/"+chatID+"/messages", map[string]any{"question": question}
		}
		resp, err := client.post(cmd.Context(), path, body)
		if err != nil {
			return err
		}
		var ans rag.Answer
		if err := decodeJSON(resp, &ans); err != nil {
			if chatID != "" && isStatus(err, http.StatusNotFound) {
				return fmt.Errorf("no chat with id %s: %w", chatID, err)
			}
			return err
		}

		printAnswer(ans)
		return nil
	},
}

func init() {
	askCmd.Flags().StringSlice("doc", nil, "document id to search (repeatable, in priority order)")
	askCmd.Flags().String("chat", "", "continue an existing chat")
}

func printAnswer(ans rag.Answer) {
	fmt.Fprintln(stdout, ans.Content)
	if len(ans.Citations) == 0 {
		return
	}
	fmt.Fprintln(stdout)
	for _, c := range ans.Citations {
		fmt.Fprintf(stdout, "  %s %s, page %d\n", colorize(colorCyan, "•"), c.DocumentName, c.PageNum)
	}
}

// --- cluster ---

var clusterCmd = &cobra.Command{
	Use:   "cluster <document-id>",
	Short: "Cluster a document's pages into topics and print them",
	Long: `Cluster a document's pages into topics and print them.

This runs in-process against the configured storage, vector store and
inference engine; no server needs to be running. The result replaces any
earlier clustering of the document.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dims, _ := cmd.Flags().GetInt("dimensions")
		asJSON, _ := cmd.Flags().GetBool("json")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if !cmd.Flags().Changed("dimensions") {
			dims = cfg.Cluster.Dimensions
		}
		logger := setupLogging(cfg.Log.Level)

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		printStep("Clustering %s into %d dimensions...", args[0], dims)
		elems, err := a.clustering().Cluster(ctx, args[0], dims)
		if err != nil {
			return err
		}

		if asJSON {
			return printJSON(elems)
		}
		printClusters(elems)
		return nil
	},
}

func init() {
	clusterCmd.Flags().Int("dimensions", clustering.DefaultDimensions, "projection dimensions, 2 or 3 (default from cluster.dimensions)")
	clusterCmd.Flags().Bool("json", false, "print cluster elements as JSON")
}

func printClusters(elems []storage.ClusterElement) {
	var order []string
	pages := map[string][]int{}
	for _, e := range elems {
		if _, ok := pages[e.ClusterName]; !ok {
			order = append(order, e.ClusterName)
		}
		pages[e.ClusterName] = append(pages[e.ClusterName], e.PageNumber)
	}
	for _, name := range order {
		nums := make([]string, len(pages[name]))
		for i, n := range pages[name] {
			nums[i] = fmt.Sprint(n)
		}
		fmt.Fprintf(stdout, "%s  pages %s\n", colorize(colorBold, name), strings.Join(nums, ", "))
	}
	printSuccess("%d pages in %d clusters", len(elems), len(order))
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		fmt.Fprintf(stdout, "# %s\n", config.Path())
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(stdout, "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the config file.

Secrets (API keys, the Postgres URL, S3 credentials and the API token) are
read only from DOCINTEL_* environment variables or a .env file.

Valid keys:
  ` + strings.Join(config.ValidKeys(), "\n  "),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
