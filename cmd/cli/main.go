package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/Guna-13/xikolo-android/internal/app"
	"github.com/Guna-13/xikolo-android/internal/domain"
	"github.com/Guna-13/xikolo-android/internal/infrastructure"
	"github.com/Guna-13/xikolo-android/pkg/logger"
)

var (
	serverURL   string
	configPath  string
	noAutoStart bool
	rootCmd     = &cobra.Command{
		Use:   "xikolo-sync",
		Short: "Offline sync for course content",
		Long:  `A command-line interface for the course content sync server: cached API resources, downloads and their progress.`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8470", "Server URL")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (used for local commands and server auto-start)")
	rootCmd.PersistentFlags().BoolVar(&noAutoStart, "no-auto-start", false, "Don't auto-start server if not running")

	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(prefsCmd)
	rootCmd.AddCommand(networkCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(authCmd)

	downloadCmd.AddCommand(downloadStartCmd, downloadListCmd, downloadGetCmd, downloadPauseCmd,
		downloadCancelCmd, downloadDeleteCmd, downloadStatsCmd, downloadWatchCmd)
	configCmd.AddCommand(configInitCmd)
	authCmd.AddCommand(authTokenCmd)
}

// ensureServer checks if server is running and starts it if needed (unless --no-auto-start)
func ensureServer() *apiClient {
	if !noAutoStart {
		if err := ensureServerRunning(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}
	return newAPIClient(serverURL)
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printJSON(v interface{}) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}

var fetchCmd = &cobra.Command{
	Use:   "fetch [type] [id]",
	Short: "Fetch an API resource through the cache",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		client := ensureServer()
		policy, _ := cmd.Flags().GetString("policy")
		noAuth, _ := cmd.Flags().GetBool("no-auth")

		query := url.Values{"policy": {policy}, "auth": {strconv.FormatBool(!noAuth)}}
		var resource map[string]interface{}
		exitOnError(client.do(http.MethodGet, "/api/v1/resources/"+url.PathEscape(args[0])+"/"+url.PathEscape(args[1]), query, nil, &resource))
		printJSON(resource)
	},
}

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Manage offline downloads",
}

var downloadStartCmd = &cobra.Command{
	Use:   "start [file_type] [course_id] [module_id] [item_id] [remote_uri]",
	Short: "Start or resume a download",
	Args:  cobra.ExactArgs(5),
	Run: func(cmd *cobra.Command, args []string) {
		client := ensureServer()
		title, _ := cmd.Flags().GetString("title")

		payload := map[string]string{
			"file_type":  args[0],
			"course_id":  args[1],
			"module_id":  args[2],
			"item_id":    args[3],
			"remote_uri": args[4],
		}
		if title != "" {
			payload["title"] = title
		}

		var download domain.Download
		exitOnError(client.do(http.MethodPost, "/api/v1/downloads", nil, payload, &download))
		fmt.Printf("Download %s\n", download.Status)
		fmt.Printf("ID:   %s\n", download.ID)
		fmt.Printf("File: %s\n", download.LocalPath)
	},
}

var downloadListCmd = &cobra.Command{
	Use:   "list",
	Short: "List downloads",
	Run: func(cmd *cobra.Command, args []string) {
		client := ensureServer()
		status, _ := cmd.Flags().GetString("status")
		course, _ := cmd.Flags().GetString("course")

		query := url.Values{}
		if status != "" {
			query.Set("status", status)
		}
		if course != "" {
			query.Set("course_id", course)
		}

		var downloads []domain.Download
		exitOnError(client.do(http.MethodGet, "/api/v1/downloads", query, nil, &downloads))

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tPROGRESS\tTITLE")
		for _, d := range downloads {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				d.ID,
				d.Status,
				formatProgress(d.BytesDownloadedSoFar, d.TotalSizeBytes),
				truncate(d.Title, 40))
		}
		w.Flush()
	},
}

var downloadGetCmd = &cobra.Command{
	Use:   "get [file_type] [course_id] [module_id] [item_id]",
	Short: "Get download details",
	Args:  cobra.ExactArgs(4),
	Run: func(cmd *cobra.Command, args []string) {
		client := ensureServer()
		var d domain.Download
		exitOnError(client.do(http.MethodGet, downloadPath(args), nil, nil, &d))

		fmt.Printf("Download Details:\n")
		fmt.Printf("  ID:       %s\n", d.ID)
		fmt.Printf("  Status:   %s\n", d.Status)
		fmt.Printf("  Remote:   %s\n", d.RemoteURI)
		fmt.Printf("  File:     %s\n", d.LocalPath)
		fmt.Printf("  Progress: %s\n", formatProgress(d.BytesDownloadedSoFar, d.TotalSizeBytes))
		fmt.Printf("  Created:  %s\n", d.CreatedAt.Format("2006-01-02 15:04:05"))
		if d.LastError != "" {
			fmt.Printf("  Error:    %s\n", d.LastError)
		}
	},
}

var downloadPauseCmd = &cobra.Command{
	Use:   "pause [file_type] [course_id] [module_id] [item_id]",
	Short: "Pause a download, keeping the partial file",
	Args:  cobra.ExactArgs(4),
	Run: func(cmd *cobra.Command, args []string) {
		client := ensureServer()
		var d domain.Download
		exitOnError(client.do(http.MethodPost, downloadPath(args)+"/pause", nil, nil, &d))
		fmt.Printf("Download paused at %s\n", formatProgress(d.BytesDownloadedSoFar, d.TotalSizeBytes))
	},
}

var downloadCancelCmd = &cobra.Command{
	Use:   "cancel [file_type] [course_id] [module_id] [item_id]",
	Short: "Cancel a download and discard the partial file",
	Args:  cobra.ExactArgs(4),
	Run: func(cmd *cobra.Command, args []string) {
		client := ensureServer()
		exitOnError(client.do(http.MethodPost, downloadPath(args)+"/cancel", nil, nil, nil))
		fmt.Println("Download cancelled successfully")
	},
}

var downloadDeleteCmd = &cobra.Command{
	Use:   "delete [file_type] [course_id] [module_id] [item_id]",
	Short: "Delete a download and its file",
	Args:  cobra.ExactArgs(4),
	Run: func(cmd *cobra.Command, args []string) {
		client := ensureServer()
		exitOnError(client.do(http.MethodDelete, downloadPath(args), nil, nil, nil))
		fmt.Println("Download deleted")
	},
}

var downloadStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show download statistics",
	Run: func(cmd *cobra.Command, args []string) {
		client := ensureServer()
		var stats domain.DownloadStats
		exitOnError(client.do(http.MethodGet, "/api/v1/downloads/stats", nil, nil, &stats))

		fmt.Println("Download Statistics:")
		fmt.Printf("  Total:     %d\n", stats.Total)
		fmt.Printf("  Queued:    %d\n", stats.Queued)
		fmt.Printf("  Running:   %d\n", stats.Running)
		fmt.Printf("  Paused:    %d\n", stats.Paused)
		fmt.Printf("  Completed: %d\n", stats.Completed)
		fmt.Printf("  Failed:    %d\n", stats.Failed)
		fmt.Printf("  Waiting:   %d\n", stats.QueueDepth)
	},
}

var downloadWatchCmd = &cobra.Command{
	Use:   "watch [file_type] [course_id] [module_id] [item_id]",
	Short: "Follow the progress of a download until it ends",
	Args:  cobra.ExactArgs(4),
	Run: func(cmd *cobra.Command, args []string) {
		client := ensureServer()
		conn, resp, err := websocket.DefaultDialer.Dial(client.websocketURL(downloadPath(args)+"/progress"), nil)
		if err != nil && resp != nil {
			err = fmt.Errorf("%w (HTTP %d)", err, resp.StatusCode)
		}
		exitOnError(err)
		defer conn.Close()

		for {
			var snap domain.ProgressSnapshot
			if err := conn.ReadJSON(&snap); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					exitOnError(err)
				}
				return
			}
			fmt.Printf("%s %s\n", snap.Status, formatProgress(snap.BytesDownloadedSoFar, snap.TotalSizeBytes))
		}
	},
}

var prefsCmd = &cobra.Command{
	Use:   "mobile-downloads [on|off]",
	Short: "Show or change whether downloads may use mobile data",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := ensureServer()
		var result struct {
			Allowed bool `json:"allowed"`
		}
		if len(args) == 0 {
			exitOnError(client.do(http.MethodGet, "/api/v1/preferences/mobile-downloads", nil, nil, &result))
		} else {
			allowed, err := parseToggle(args[0])
			exitOnError(err)
			exitOnError(client.do(http.MethodPut, "/api/v1/preferences/mobile-downloads", nil, map[string]bool{"allowed": allowed}, &result))
		}
		fmt.Printf("Downloads over mobile data: %s\n", map[bool]string{true: "allowed", false: "not allowed"}[result.Allowed])
	},
}

var networkCmd = &cobra.Command{
	Use:   "network [wifi|mobile|none]",
	Short: "Show or report the current network connection",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := ensureServer()
		var result struct {
			ConnectionType string `json:"connection_type"`
			Online         bool   `json:"online"`
		}
		if len(args) == 0 {
			exitOnError(client.do(http.MethodGet, "/api/v1/network", nil, nil, &result))
		} else {
			exitOnError(client.do(http.MethodPut, "/api/v1/network", nil, map[string]string{"connection_type": args[0]}, &result))
		}
		fmt.Printf("Connection: %s (online: %t)\n", result.ConnectionType, result.Online)
	},
}

var logsCmd = &cobra.Command{
	Use:   "logs [category]",
	Short: "Show the jobs, downloads or error log",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := ensureServer()
		date, _ := cmd.Flags().GetString("date")
		search, _ := cmd.Flags().GetString("query")
		limit, _ := cmd.Flags().GetInt("limit")
		jsonOutput, _ := cmd.Flags().GetBool("json")

		query := url.Values{"limit": {strconv.Itoa(limit)}}
		if date != "" {
			query.Set("date", date)
		}
		if search != "" {
			query.Set("q", search)
		}

		var result struct {
			Entries []logger.LogEntry `json:"entries"`
		}
		exitOnError(client.do(http.MethodGet, "/api/v1/logs/"+url.PathEscape(args[0]), query, nil, &result))

		if jsonOutput {
			printJSON(result.Entries)
			return
		}
		for _, e := range result.Entries {
			fmt.Printf("%s %-5s %s", e.Timestamp, e.Level, e.Message)
			for k, v := range e.Fields {
				fmt.Printf(" %s=%v", k, v)
			}
			fmt.Println()
		}
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the local configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file with the default settings",
	Run: func(cmd *cobra.Command, args []string) {
		path := configPath
		if path == "" {
			home, err := os.UserHomeDir()
			exitOnError(err)
			path = filepath.Join(home, ".xikolo-sync", "config.yaml")
		}
		exitOnError(app.SaveConfig(domain.DefaultConfig(), path))
		fmt.Printf("Config written to %s\n", path)
	},
}

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage the API access token",
}

var authTokenCmd = &cobra.Command{
	Use:   "token [token]",
	Short: "Store the access token used for authenticated requests",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		config, err := app.LoadConfig(configPath)
		exitOnError(err)
		if config.Auth.TokenFile == "" {
			exitOnError(fmt.Errorf("auth.token_file is not configured"))
		}
		exitOnError(os.MkdirAll(filepath.Dir(config.Auth.TokenFile), 0700))
		exitOnError(infrastructure.NewTokenStore(config.Auth.TokenFile, "").Save(args[0]))
		fmt.Printf("Token saved to %s\n", config.Auth.TokenFile)
	},
}

func init() {
	fetchCmd.Flags().StringP("policy", "p", string(domain.PolicyCacheThenNetwork), "Cache policy (cache_only, network_only, cache_then_network)")
	fetchCmd.Flags().Bool("no-auth", false, "Send the request without the access token")
	downloadStartCmd.Flags().StringP("title", "t", "", "Title shown in notifications")
	downloadListCmd.Flags().StringP("status", "s", "", "Filter by status")
	downloadListCmd.Flags().StringP("course", "c", "", "Filter by course ID")
	logsCmd.Flags().StringP("date", "d", "", "Day to read (YYYY-MM-DD), defaults to today")
	logsCmd.Flags().StringP("query", "q", "", "Only show entries containing this text")
	logsCmd.Flags().IntP("limit", "n", 100, "Maximum number of entries")
	logsCmd.Flags().BoolP("json", "j", false, "Output in JSON format")
}

func parseToggle(s string) (bool, error) {
	switch s {
	case "on", "yes":
		return true, nil
	case "off", "no":
		return false, nil
	}
	return strconv.ParseBool(s)
}

func formatProgress(done, total int64) string {
	if total <= 0 {
		return fmt.Sprintf("%s / ?", formatBytes(done))
	}
	return fmt.Sprintf("%s / %s (%.0f%%)", formatBytes(done), formatBytes(total), float64(done)*100/float64(total))
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
