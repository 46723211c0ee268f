package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/onehubexpress/search/internal/apiclient"
	"github.com/onehubexpress/search/internal/config"
	"github.com/onehubexpress/search/internal/debounce"
	"github.com/onehubexpress/search/internal/location"
	"github.com/onehubexpress/search/internal/models"
	"github.com/onehubexpress/search/internal/observability"
	"github.com/onehubexpress/search/internal/suggest"
)

type options struct {
	server   string
	token    string
	category string
	lat      float64
	lng      float64
	address  string
	locate   bool
	logLevel string
}

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}

	var opts options
	flag.StringVar(&opts.server, "server", envOr("ONEHUB_SERVER", "http://localhost:8080"), "Search service base URL")
	flag.StringVar(&opts.token, "token", os.Getenv("ONEHUB_TOKEN"), "Bearer token of the signed-in user")
	flag.StringVar(&opts.category, "category", "general", "Service page the search starts from")
	flag.Float64Var(&opts.lat, "lat", 0, "Latitude")
	flag.Float64Var(&opts.lng, "lng", 0, "Longitude")
	flag.StringVar(&opts.address, "address", "", "Free-text address used instead of coordinates")
	flag.BoolVar(&opts.locate, "locate", false, "Look up an approximate location from the public IP")
	flag.StringVar(&opts.logLevel, "log-level", "warn", "Log level")
	flag.Usage = usage
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, flag.Args(), os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), `usage: onehub [flags] <command>

commands:
  search <query>   run one search and print the listings
  suggest          read keystrokes line by line from stdin and print suggestions
  history          print the signed-in user's recent searches

flags:
`)
	flag.PrintDefaults()
}

func run(ctx context.Context, opts options, args []string, in io.Reader, out io.Writer) error {
	if len(args) == 0 {
		usage()
		return errors.New("missing command")
	}

	logger, err := observability.NewLogger(opts.logLevel)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer logger.Sync()

	client := apiclient.New(apiclient.Config{BaseURL: opts.server, Token: opts.token}, logger)
	provider := location.NewProvider(geolocatorFor(opts), location.DefaultTimeout, logger)

	switch args[0] {
	case "search":
		query := strings.TrimSpace(strings.Join(args[1:], " "))
		if query == "" {
			return errors.New("search needs a query")
		}
		provider.Refresh(ctx)
		resp, err := client.Search(ctx, &models.SearchRequest{
			Query:       query,
			ServiceType: models.ParseServiceCategory(opts.category),
			Location:    requestLocation(opts, provider),
		})
		if err != nil {
			return err
		}
		renderResponse(out, resp)
		return nil

	case "suggest":
		provider.Start(ctx, location.DefaultRefreshInterval)
		return interactiveSuggest(ctx, client, opts, provider, in, out, logger)

	case "history":
		entries, err := client.History(ctx, 20)
		if err != nil {
			if errors.Is(err, apiclient.ErrUnauthorized) {
				return errors.New("sign in first: pass -token or set ONEHUB_TOKEN")
			}
			return err
		}
		for _, e := range entries {
			fmt.Fprintf(out, "%s  %-18s %s\n", e.Timestamp.Local().Format("2006-01-02 15:04"), e.ServiceType, e.Query)
		}
		return nil

	default:
		usage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

// geolocatorFor returns nil when the user gave no way to locate them.
func geolocatorFor(opts options) location.Geolocator {
	switch {
	case opts.lat != 0 || opts.lng != 0:
		return location.StaticGeolocator{Coordinates: models.Coordinates{Latitude: opts.lat, Longitude: opts.lng}}
	case opts.locate:
		return location.NewIPGeolocator("")
	default:
		return nil
	}
}

func requestLocation(opts options, provider *location.Provider) models.Location {
	if a := strings.TrimSpace(opts.address); a != "" {
		return models.AddressText(a)
	}
	return provider.Current()
}

// interactiveSuggest treats every stdin line as the current contents of the
// search box.
func interactiveSuggest(ctx context.Context, client *apiclient.Client, opts options, provider *location.Provider, in io.Reader, out io.Writer, logger *zap.Logger) error {
	delivered := make(chan string, 16)
	session := suggest.NewSession(ctx, client, suggest.Options{Delay: debounce.DefaultDelay}, func(u suggest.Update) {
		renderSuggestions(out, u)
		select {
		case delivered <- u.Query:
		default:
		}
	}, logger)
	defer session.Close()

	category := models.ParseServiceCategory(opts.category)
	last := ""
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		last = scanner.Text()
		session.Type(models.SearchRequest{
			Query:       last,
			ServiceType: category,
			Location:    requestLocation(opts, provider),
		})
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading input: %w", err)
	}
	if last == "" {
		return nil
	}

	// Input ended: wait for the final query's answer.
	timeout := time.NewTimer(debounce.DefaultDelay + 20*time.Second)
	defer timeout.Stop()
	for {
		select {
		case q := <-delivered:
			if q == last {
				return nil
			}
		case <-timeout.C:
			return errors.New("timed out waiting for suggestions")
		case <-ctx.Done():
			return nil
		}
	}
}

func renderSuggestions(out io.Writer, u suggest.Update) {
	if u.Err != nil {
		fmt.Fprintf(out, "%q: suggestions unavailable: %v\n", u.Query, u.Err)
		return
	}
	if len(u.Suggestions) == 0 {
		fmt.Fprintf(out, "%q: keep typing\n", u.Query)
		return
	}
	fmt.Fprintf(out, "%q:\n", u.Query)
	for _, s := range u.Suggestions {
		fmt.Fprintf(out, "  - %s\n", s)
	}
}

func renderResponse(out io.Writer, resp *models.SearchResponse) {
	if resp.Source == models.SourceValidation {
		fmt.Fprintf(out, "%s\n", resp.Summary)
		return
	}
	if resp.Redirect != nil {
		fmt.Fprintf(out, "-> opening %s\n", resp.Redirect.Path)
	}
	fmt.Fprintf(out, "%s\n\n", resp.Summary)
	for i, r := range resp.Results {
		fmt.Fprintf(out, "%d. %s (%s)\n   %s\n   %s | rating %s | %s", i+1, r.Title, r.Provider, r.Description, r.Price, r.Rating, r.ETA)
		if r.Distance != "" {
			fmt.Fprintf(out, " | %s", r.Distance)
		}
		fmt.Fprintln(out)
	}
	if len(resp.Suggestions) > 0 {
		fmt.Fprintf(out, "\nYou might also try:\n")
		for _, s := range resp.Suggestions {
			fmt.Fprintf(out, "  - %s\n", s)
		}
	}
	if resp.Error != "" {
		fmt.Fprintf(out, "\n(showing %s results: %s)\n", resp.Source, resp.Error)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
