package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/yourusername/offline-go/api/handlers"
	"github.com/yourusername/offline-go/internal/domain"
)

var (
	serverURL    string
	serverConfig string
	noAutoStart  bool
	rootCmd     = &cobra.Command{
		Use:   "offline",
		Short: "Offline CLI - download map regions for offline use",
		Long:  `A command-line interface for the offline region download server.`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8181", "Server URL")
	rootCmd.PersistentFlags().StringVar(&serverConfig, "server-config", "", "Config file for an auto-started server")
	rootCmd.PersistentFlags().BoolVar(&noAutoStart, "no-auto-start", false, "Don't auto-start server if not running")

	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(groupCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(cancelGroupCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(regionsCmd)
	rootCmd.AddCommand(watchCmd)
}

// ensureServer checks if server is running and starts it if needed (unless --no-auto-start)
func ensureServer() *apiClient {
	if !noAutoStart {
		if err := ensureServerRunning(serverURL, serverConfig); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}
	return newAPIClient(serverURL)
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

// regionFromFlags builds a region request from the add command flags
func regionFromFlags(cmd *cobra.Command) handlers.RegionRequest {
	flags := cmd.Flags()
	var req handlers.RegionRequest
	req.Name, _ = flags.GetString("name")
	req.Definition.StyleURL, _ = flags.GetString("style-url")
	req.Definition.Bounds.North, _ = flags.GetFloat64("north")
	req.Definition.Bounds.South, _ = flags.GetFloat64("south")
	req.Definition.Bounds.East, _ = flags.GetFloat64("east")
	req.Definition.Bounds.West, _ = flags.GetFloat64("west")
	req.Definition.MinZoom, _ = flags.GetFloat64("min-zoom")
	req.Definition.MaxZoom, _ = flags.GetFloat64("max-zoom")
	req.Definition.PixelRatio, _ = flags.GetFloat64("pixel-ratio")
	req.Definition.TileLimit, _ = flags.GetInt64("tile-limit")
	req.Notification.RequestMapSnapshot, _ = flags.GetBool("snapshot")
	req.Notification.Title = req.Name
	return req
}

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Start downloading a region",
	Run: func(cmd *cobra.Command, args []string) {
		client := ensureServer()

		var download domain.RegionDownload
		if err := client.do(http.MethodPost, "/api/v1/downloads", regionFromFlags(cmd), &download); err != nil {
			fail(err)
		}

		fmt.Printf("Download started!\n")
		fmt.Printf("Key:   %s\n", download.Key)
		fmt.Printf("State: %s\n", download.State)
	},
}

var groupCmd = &cobra.Command{
	Use:   "group [file]",
	Short: "Start a grouped download from a JSON file",
	Long: `Start a grouped download. The file holds {"members": [...], "notification": {...}}
where every member has the shape accepted by POST /api/v1/downloads.
Without an argument the current grouped download is shown.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := ensureServer()

		var group domain.GroupDownload
		if len(args) == 0 {
			if err := client.do(http.MethodGet, "/api/v1/groups/current", nil, &group); err != nil {
				fail(err)
			}
			printGroup(group)
			return
		}

		data, err := os.ReadFile(args[0])
		if err != nil {
			fail(err)
		}
		var req handlers.GroupRequest
		if err := json.Unmarshal(data, &req); err != nil {
			fail(fmt.Errorf("invalid group file: %w", err))
		}

		if err := client.do(http.MethodPost, "/api/v1/groups", req, &group); err != nil {
			fail(err)
		}
		fmt.Printf("Grouped download started!\n")
		printGroup(group)
	},
}

func printGroup(group domain.GroupDownload) {
	fmt.Printf("Key:      %s\n", group.Key)
	fmt.Printf("State:    %s\n", group.State)
	fmt.Printf("Progress: %d%%\n", group.Progress)
	if group.Current != nil {
		fmt.Printf("Current:  %s\n", group.Current.DisplayName())
	}
	fmt.Printf("Members:  %d\n", group.Size())
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List downloads in progress",
	Run: func(cmd *cobra.Command, args []string) {
		client := ensureServer()

		var downloads []domain.RegionDownload
		if err := client.do(http.MethodGet, "/api/v1/downloads", nil, &downloads); err != nil {
			fail(err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "KEY\tREGION\tNAME\tSTATE\tPROGRESS")
		for _, d := range downloads {
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%d%%\n",
				truncate(d.Key, 8),
				d.ID,
				truncate(d.DisplayName(), 30),
				d.State,
				d.Progress)
		}
		w.Flush()
	},
}

var getCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Get download details",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := ensureServer()

		var record domain.DownloadRecord
		if err := client.do(http.MethodGet, "/api/v1/history/"+url.PathEscape(args[0]), nil, &record); err != nil {
			fail(err)
		}

		fmt.Printf("Download Details:\n")
		fmt.Printf("  Key:      %s\n", record.Key)
		fmt.Printf("  Name:     %s\n", record.Name)
		fmt.Printf("  Region:   %d\n", record.RegionID)
		fmt.Printf("  State:    %s\n", record.State)
		fmt.Printf("  Progress: %d%%\n", record.Progress)
		fmt.Printf("  Created:  %s\n", record.CreatedAt.Format("2006-01-02 15:04:05"))
		if record.ErrorReason != "" {
			fmt.Printf("  Error:    %s: %s\n", record.ErrorReason, record.ErrorMessage)
		}
		if record.FinishedAt != nil {
			fmt.Printf("  Finished: %s\n", record.FinishedAt.Format("2006-01-02 15:04:05"))
		}
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel [key]",
	Short: "Cancel a download",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := ensureServer()
		if err := client.do(http.MethodPost, "/api/v1/downloads/"+url.PathEscape(args[0])+"/cancel", nil, nil); err != nil {
			fail(err)
		}
		fmt.Println("Download cancelled successfully")
	},
}

var cancelGroupCmd = &cobra.Command{
	Use:   "cancel-group",
	Short: "Cancel the grouped download in progress",
	Run: func(cmd *cobra.Command, args []string) {
		client := ensureServer()
		if err := client.do(http.MethodPost, "/api/v1/groups/current/cancel", nil, nil); err != nil {
			fail(err)
		}
		fmt.Println("Grouped download cancelled successfully")
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List finished, cancelled and failed downloads",
	Run: func(cmd *cobra.Command, args []string) {
		client := ensureServer()

		query := url.Values{}
		if state, _ := cmd.Flags().GetString("state"); state != "" {
			query.Set("state", state)
		}
		if groups, _ := cmd.Flags().GetBool("groups"); groups {
			query.Set("groups", "true")
		}
		path := "/api/v1/history"
		if len(query) > 0 {
			path += "?" + query.Encode()
		}

		var records []domain.DownloadRecord
		if err := client.do(http.MethodGet, path, nil, &records); err != nil {
			fail(err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "KEY\tNAME\tSTATE\tPROGRESS\tERROR\tCREATED")
		for _, r := range records {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d%%\t%s\t%s\n",
				truncate(r.Key, 8),
				truncate(r.Name, 30),
				r.State,
				r.Progress,
				r.ErrorReason,
				r.CreatedAt.Format("2006-01-02 15:04"))
		}
		w.Flush()
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show download statistics",
	Run: func(cmd *cobra.Command, args []string) {
		client := ensureServer()

		var stats domain.DownloadStats
		if err := client.do(http.MethodGet, "/api/v1/history/stats", nil, &stats); err != nil {
			fail(err)
		}

		fmt.Println("Download Statistics:")
		fmt.Printf("  Total:     %d\n", stats.Total)
		fmt.Printf("  Pending:   %d\n", stats.Pending)
		fmt.Printf("  Active:    %d\n", stats.Active)
		fmt.Printf("  Finished:  %d\n", stats.Finished)
		fmt.Printf("  Cancelled: %d\n", stats.Cancelled)
		fmt.Printf("  Errored:   %d\n", stats.Errored)
	},
}

var regionsCmd = &cobra.Command{
	Use:   "regions",
	Short: "List stored offline regions",
	Run: func(cmd *cobra.Command, args []string) {
		client := ensureServer()

		var regions []struct {
			ID             int64   `json:"id"`
			MinZoom        float64 `json:"min_zoom"`
			MaxZoom        float64 `json:"max_zoom"`
			RequiredTiles  int64   `json:"required_tiles"`
			CompletedTiles int64   `json:"completed_tiles"`
			CompletedSize  int64   `json:"completed_size"`
		}
		if err := client.do(http.MethodGet, "/api/v1/regions", nil, &regions); err != nil {
			fail(err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tZOOM\tTILES\tSIZE")
		for _, r := range regions {
			fmt.Fprintf(w, "%d\t%g-%g\t%d/%d\t%d\n",
				r.ID, r.MinZoom, r.MaxZoom, r.CompletedTiles, r.RequiredTiles, r.CompletedSize)
		}
		w.Flush()
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch [key]",
	Short: "Stream download events",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := ensureServer()

		key := ""
		if len(args) == 1 {
			key = args[0]
		}
		conn, err := client.dialEvents(key)
		if err != nil {
			fail(err)
		}
		defer conn.Close()

		for {
			var event domain.Event
			if err := conn.ReadJSON(&event); err != nil {
				fail(err)
			}
			fmt.Println(formatEvent(event))
		}
	},
}

// formatEvent renders one event as a single line
func formatEvent(event domain.Event) string {
	line := fmt.Sprintf("%s %-15s", event.Time.Format("15:04:05"), event.Kind)
	switch {
	case event.Group != nil:
		line += fmt.Sprintf(" group %s %d%%", truncate(event.Group.Key, 8), event.Progress)
		if event.Member != nil {
			line += " finished " + event.Member.DisplayName()
		} else if event.Group.Current != nil {
			line += " " + event.Group.Current.DisplayName()
		}
	case event.Download != nil:
		line += fmt.Sprintf(" %s %d%%", event.Download.DisplayName(), event.Progress)
	}
	if event.Reason != "" {
		line += fmt.Sprintf(" [%s] %s", event.Reason, event.Message)
	}
	return line
}

func init() {
	addCmd.Flags().String("name", "", "Region name")
	addCmd.Flags().String("style-url", "", "Tile URL template, e.g. https://tile.example.com/{z}/{x}/{y}.png")
	addCmd.Flags().Float64("north", 0, "North latitude")
	addCmd.Flags().Float64("south", 0, "South latitude")
	addCmd.Flags().Float64("east", 0, "East longitude")
	addCmd.Flags().Float64("west", 0, "West longitude")
	addCmd.Flags().Float64("min-zoom", 0, "Minimum zoom")
	addCmd.Flags().Float64("max-zoom", 14, "Maximum zoom")
	addCmd.Flags().Float64("pixel-ratio", 1, "Pixel ratio")
	addCmd.Flags().Int64("tile-limit", 0, "Tile limit, 0 uses the server default")
	addCmd.Flags().Bool("snapshot", false, "Render a preview of the region")
	addCmd.MarkFlagRequired("style-url")

	historyCmd.Flags().StringP("state", "s", "", "Filter by state")
	historyCmd.Flags().Bool("groups", false, "Only show grouped downloads")
}

func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
