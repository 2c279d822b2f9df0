package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/pkg/browser"
	"github.com/spf13/cobra"

	"github.com/ibeckermayer/tootrank/internal/config"
	"github.com/ibeckermayer/tootrank/internal/digest"
	"github.com/ibeckermayer/tootrank/internal/types"
)

var (
	loginInstance string
	loginToken    string

	timelineRefresh bool

	recommendLimit  int
	recommendIDs    bool
	recommendDigest bool
	recommendOpen   bool
	recommendEmail  bool

	loginCmd = &cobra.Command{
		Use:   "login",
		Short: "Store an access token for your Mastodon account",
		Long: `Verifies an access token against the instance and stores it.
Create a token under Preferences > Development on your instance with the
read and write scopes. The token may also be given in TOOTRANK_TOKEN.`,
		RunE: runLogin,
	}
	logoutCmd = &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored access token",
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := newAuthManager()
			if err != nil {
				return err
			}
			if err := manager.Logout(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out.")
			return nil
		},
	}

	timelineCmd = &cobra.Command{
		Use:   "timeline",
		Short: "Show the home timeline ordered by your interests",
		RunE:  runTimeline,
	}
	recommendCmd = &cobra.Command{
		Use:   "recommend",
		Short: "Show recommended posts from the last week",
		RunE:  runRecommend,
	}
	recalcCmd = &cobra.Command{
		Use:   "recalc",
		Short: "Recalculate author and hashtag affinities now",
		RunE: withEnv(func(cmd *cobra.Command, e *env, args []string) error {
			res := e.app.RecalculateNow(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "%d interactions, %d authors, %d hashtags\n",
				res.Interactions, res.Authors, res.Hashtags)
			return nil
		}),
	}
	pruneCmd = &cobra.Command{
		Use:   "prune",
		Short: "Remove recommendation candidates past the retention period",
		RunE: withEnv(func(cmd *cobra.Command, e *env, args []string) error {
			removed, err := e.app.PruneCandidates(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d posts.\n", removed)
			return nil
		}),
	}

	likeCmd = &cobra.Command{
		Use:   "like <post-id>",
		Short: "Toggle favourite on a post",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(func(cmd *cobra.Command, e *env, args []string) error {
			if err := e.app.Like(cmd.Context(), args[0]); err != nil {
				return err
			}
			return printPost(cmd, e, args[0])
		}),
	}
	repostCmd = &cobra.Command{
		Use:     "repost <post-id>",
		Aliases: []string{"boost"},
		Short:   "Toggle boost on a post",
		Args:    cobra.ExactArgs(1),
		RunE: withEnv(func(cmd *cobra.Command, e *env, args []string) error {
			if err := e.app.Repost(cmd.Context(), args[0]); err != nil {
				return err
			}
			return printPost(cmd, e, args[0])
		}),
	}
	commentCmd = &cobra.Command{
		Use:   "comment <post-id> <text...>",
		Short: "Reply to a post",
		Args:  cobra.MinimumNArgs(2),
		RunE: withEnv(func(cmd *cobra.Command, e *env, args []string) error {
			if err := e.app.Comment(cmd.Context(), args[0], strings.Join(args[1:], " ")); err != nil {
				return err
			}
			return printPost(cmd, e, args[0])
		}),
	}
	scoreCmd = &cobra.Command{
		Use:   "score <post-id>",
		Short: "Show the interest score of a post",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(func(cmd *cobra.Command, e *env, args []string) error {
			score, err := e.app.InterestScore(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%.3f\n", score)
			return nil
		}),
	}
	viewCmd = &cobra.Command{
		Use:   "view <post-id>",
		Short: "Open a post in the browser",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(func(cmd *cobra.Command, e *env, args []string) error {
			return e.app.OpenPost(cmd.Context(), args[0])
		}),
	}

	openCmd = &cobra.Command{
		Use:       "open <config|cache>",
		Short:     "Open the config file or cache directory",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"config", "cache"},
		RunE:      runOpen,
	}
)

func init() {
	loginCmd.Flags().StringVar(&loginInstance, "instance", "", "instance URL (default from config)")
	loginCmd.Flags().StringVar(&loginToken, "token", "", "access token")

	timelineCmd.Flags().BoolVar(&timelineRefresh, "refresh", false, "bypass the timeline cache")

	recommendCmd.Flags().IntVarP(&recommendLimit, "limit", "n", 0, "number of posts (default from config)")
	recommendCmd.Flags().BoolVar(&recommendIDs, "ids", false, "print post ids only")
	recommendCmd.Flags().BoolVar(&recommendDigest, "digest", false, "write an HTML digest")
	recommendCmd.Flags().BoolVar(&recommendOpen, "open", false, "open the latest digest in the browser")
	recommendCmd.Flags().BoolVar(&recommendEmail, "email", false, "mail the digest to the configured address")
}

// withEnv wires an env for the duration of one command.
func withEnv(fn func(cmd *cobra.Command, e *env, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		e, err := newEnv()
		if err != nil {
			return err
		}
		defer e.Close()
		return fn(cmd, e, args)
	}
}

func runLogin(cmd *cobra.Command, args []string) error {
	instance := loginInstance
	if instance == "" {
		instance = cfg.Instance.URL
	}
	token := loginToken
	if token == "" {
		token = os.Getenv("TOOTRANK_TOKEN")
	}

	manager, err := newAuthManager()
	if err != nil {
		return err
	}
	creds, err := manager.Login(cmd.Context(), instance, token)
	if err != nil {
		return err
	}

	if creds.Instance != cfg.Instance.URL {
		cfg.Instance.URL = creds.Instance
		if err := saveConfig(); err != nil {
			logger.Warn().Err(err).Msg("failed to save instance to config")
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Logged in as @%s on %s\n", creds.Username, creds.Instance)
	return nil
}

func runTimeline(cmd *cobra.Command, args []string) error {
	e, err := newEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	posts, err := e.app.RefreshTimeline(cmd.Context(), timelineRefresh)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tAUTHOR\tPOST")
	for _, p := range posts {
		writePostRow(w, p)
	}
	return w.Flush()
}

func runRecommend(cmd *cobra.Command, args []string) error {
	e, err := newEnv()
	if err != nil {
		return err
	}
	defer e.Close()
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if recommendIDs {
		for _, id := range e.app.RecommendedIDs(ctx, recommendLimit) {
			fmt.Fprintln(out, id)
		}
		return nil
	}

	if recommendEmail {
		d, err := e.app.SendDigest(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Sent %q (%d posts) to %s\n", d.Title, len(d.PostIDs), cfg.Email.ToAddr)
	} else if recommendDigest {
		d, path, err := e.app.BuildDigest(ctx)
		if err != nil {
			return err
		}
		fmt.Fprint(out, d.PlainBody)
		fmt.Fprintf(out, "Saved to %s\n", path)
	} else {
		ranked := e.app.Recommendations(ctx, recommendLimit)
		if len(ranked) == 0 {
			fmt.Fprintln(out, "Nothing to recommend yet. Interact with some posts and run `tootrank recalc`.")
			return nil
		}
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SCORE\tID\tAUTHOR\tPOST")
		for _, r := range ranked {
			fmt.Fprintf(w, "%.2f\t", r.Score)
			writePostRow(w, r.Post)
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	if recommendOpen {
		return e.app.ViewLastDigest()
	}
	return nil
}

func runOpen(cmd *cobra.Command, args []string) error {
	var (
		path string
		err  error
	)
	switch args[0] {
	case "config":
		path = configPath
		if path == "" {
			path, err = config.ConfigPath()
		}
		if err == nil {
			if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
				err = saveConfig()
			}
		}
	case "cache":
		path, err = config.CacheDir()
	default:
		return fmt.Errorf("unknown target: %s", args[0])
	}
	if err != nil {
		return fmt.Errorf("failed to get path: %w", err)
	}

	return browser.OpenFile(path)
}

func saveConfig() error {
	if configPath != "" {
		return cfg.SaveTo(configPath)
	}
	return cfg.Save()
}

func printPost(cmd *cobra.Command, e *env, id string) error {
	p, err := e.app.Post(cmd.Context(), id)
	if err != nil {
		return err
	}
	t := p.Target()
	fmt.Fprintf(cmd.OutOrStdout(), "%s  ♥ %d%s  ⟳ %d%s  ↩ %d\n",
		t.ID,
		t.FavouritesCount, mark(t.Favourited),
		t.ReblogsCount, mark(t.Reblogged),
		t.RepliesCount,
	)
	return nil
}

func mark(on bool) string {
	if on {
		return "*"
	}
	return ""
}

func writePostRow(w io.Writer, p types.Post) {
	t := p.Target()
	author := "@" + t.Account.Acct
	if p.Reblog != nil {
		author += " (boosted by @" + p.Account.Acct + ")"
	}
	text := strings.ReplaceAll(digest.PlainText(t.Content), "\n", " ")
	if r := []rune(text); len(r) > 80 {
		text = string(r[:79]) + "…"
	}
	fmt.Fprintf(w, "%s\t%s\t%s\n", t.ID, author, text)
}
