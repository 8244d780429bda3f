package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"ib-go/internal/app"
	"ib-go/internal/ib"
	"ib-go/internal/model"
)

// addFilterFlags registers the query pipeline flags on cmd.
func addFilterFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.Int("limit", 0, "Maximum number of posts (default from config)")
	f.Int("offset", 0, "Number of posts to skip")
	f.String("sort", "", "Sort key: date-uploaded, date-downloaded, rating or none")
	f.String("order", "", "Sort order: asc or desc")
	f.String("rating", "", "Only posts with this rating: safe, questionable, explicit or any")
	f.Bool("blacklisted", false, "Only blacklisted posts")
	f.Bool("downloaded", false, "Only downloaded posts")
	f.Bool("no-images", false, "Hide static images")
	f.Bool("no-gifs", false, "Hide gifs")
	f.Bool("no-videos", false, "Hide videos")
	f.Bool("hide-favorites", false, "Hide posts that are in any favorites folder")
}

// filterOptions starts from the config defaults and applies the flags that were set.
func filterOptions(cmd *cobra.Command, a *app.IBApp) (ib.FilterOptions, error) {
	opts := a.FilterOptions()
	f := cmd.Flags()

	if f.Changed("limit") {
		opts.Limit, _ = f.GetInt("limit")
	}
	opts.Offset, _ = f.GetInt("offset")
	if s, _ := f.GetString("sort"); s != "" {
		switch key := ib.SortKey(s); key {
		case ib.SortDateUploaded, ib.SortDateDownloaded, ib.SortRating, ib.SortNone:
			opts.Sort = key
		default:
			return opts, fmt.Errorf("unknown sort key %q", s)
		}
	}
	if s, _ := f.GetString("order"); s != "" {
		if s != string(ib.SortAsc) && s != string(ib.SortDesc) {
			return opts, fmt.Errorf("unknown sort order %q", s)
		}
		opts.SortOrder = ib.SortOrder(s)
	}
	if s, _ := f.GetString("rating"); s != "" {
		r := model.Rating(s)
		if !r.Valid() {
			return opts, fmt.Errorf("unknown rating %q", s)
		}
		opts.Rating = r
	}

	blacklisted, _ := f.GetBool("blacklisted")
	downloaded, _ := f.GetBool("downloaded")
	if blacklisted || downloaded {
		opts.Blacklisted = blacklisted
		opts.NonBlacklisted = downloaded
	}

	if v, _ := f.GetBool("no-images"); v {
		opts.ShowImages = false
	}
	if v, _ := f.GetBool("no-gifs"); v {
		opts.ShowGifs = false
	}
	if v, _ := f.GetBool("no-videos"); v {
		opts.ShowVideos = false
	}
	if v, _ := f.GetBool("hide-favorites"); v {
		opts.ShowFavorites = false
	}
	return opts, nil
}

func printPosts(posts []*model.Post) {
	if len(posts) == 0 {
		fmt.Println("No posts found.")
		return
	}
	for _, p := range posts {
		state := "-"
		switch {
		case p.Blacklisted:
			state = "B"
		case p.Downloaded:
			state = "D"
		}
		fmt.Printf("%-10d  %s  %-12s  %-5s  %4d views  %s\n",
			p.ID, state, p.Rating, p.Extension, p.ViewCount, strings.Join(p.Tags, " "))
	}
}

var postCmd = &cobra.Command{
	Use:   "post",
	Short: "Manage posts",
}

var postImportCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Import posts from a JSON file of API results (- for stdin)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "post import", args)
		if err != nil {
			return err
		}
		defer closeApp(cmd, a)

		in := os.Stdin
		if args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("opening %s: %w", args[0], err)
			}
			defer f.Close()
			in = f
		}

		n, err := a.ImportPosts(cmd.Context(), in)
		if err != nil {
			return fmt.Errorf("import failed: %w", err)
		}
		fmt.Printf("Imported %d post(s)\n", n)
		return nil
	},
}

var postListCmd = &cobra.Command{
	Use:   "list",
	Short: "List posts",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "post list", args)
		if err != nil {
			return err
		}
		defer closeApp(cmd, a)

		opts, err := filterOptions(cmd, a)
		if err != nil {
			return err
		}
		posts, err := a.ListPosts(cmd.Context(), opts)
		if err != nil {
			return err
		}
		printPosts(posts)
		return nil
	},
}

var postSearchCmd = &cobra.Command{
	Use:   "search TAG...",
	Short: "List posts carrying every given tag",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		excluded, _ := cmd.Flags().GetStringSlice("exclude")

		a, err := newApp(cmd, "post search", args)
		if err != nil {
			return err
		}
		defer closeApp(cmd, a)

		opts, err := filterOptions(cmd, a)
		if err != nil {
			return err
		}
		posts, err := a.SearchPosts(cmd.Context(), opts, args, excluded)
		if err != nil {
			return err
		}
		printPosts(posts)
		return nil
	},
}

var postShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Show a post",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}

		a, err := newApp(cmd, "post show", args)
		if err != nil {
			return err
		}
		defer closeApp(cmd, a)

		p, paths, err := a.GetPost(cmd.Context(), id)
		if err != nil {
			return err
		}

		fmt.Printf("ID:          %d\n", p.ID)
		fmt.Printf("Rating:      %s\n", p.Rating)
		fmt.Printf("Size:        %dx%d\n", p.Width, p.Height)
		fmt.Printf("Score:       %d\n", p.Score)
		fmt.Printf("Owner:       %s\n", p.Owner)
		fmt.Printf("Tags:        %s\n", strings.Join(p.Tags, " "))
		fmt.Printf("Downloaded:  %v\n", p.Downloaded)
		fmt.Printf("Blacklisted: %v\n", p.Blacklisted)
		fmt.Printf("Views:       %d\n", p.ViewCount)
		fmt.Printf("Image:       %s\n", paths.Image)
		fmt.Printf("Thumbnail:   %s\n", paths.Thumbnail)
		return nil
	},
}

// postStateCmd builds a command that applies fn to one post.
func postStateCmd(use, short, operation, done string, fn func(cmd *cobra.Command, a *app.IBApp, id int64) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			a, err := newApp(cmd, operation, args)
			if err != nil {
				return err
			}
			defer closeApp(cmd, a)

			if err := fn(cmd, a, id); err != nil {
				return err
			}
			fmt.Printf("Post %d %s\n", id, done)
			return nil
		},
	}
}

var postDownloadCmd = postStateCmd("download", "Mark a post as downloaded", "post download", "marked downloaded",
	func(cmd *cobra.Command, a *app.IBApp, id int64) error {
		_, err := a.MarkDownloaded(cmd.Context(), id)
		return err
	})

var postBlacklistCmd = postStateCmd("blacklist", "Blacklist a post", "post blacklist", "blacklisted",
	func(cmd *cobra.Command, a *app.IBApp, id int64) error {
		_, err := a.MarkBlacklisted(cmd.Context(), id)
		return err
	})

var postViewCmd = postStateCmd("view", "Count a view of a post", "post view", "viewed",
	func(cmd *cobra.Command, a *app.IBApp, id int64) error {
		_, err := a.ViewPost(cmd.Context(), id)
		return err
	})

var postForgetCmd = postStateCmd("forget", "Delete a post's files and clear its downloaded state", "post forget", "forgotten",
	func(cmd *cobra.Command, a *app.IBApp, id int64) error {
		return a.ForgetPost(cmd.Context(), id)
	})

var postStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show library counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "post stats", args)
		if err != nil {
			return err
		}
		defer closeApp(cmd, a)

		stats, err := a.GetStats(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Posts:        %d\n", stats.Total)
		fmt.Printf("Downloaded:   %d\n", stats.Downloaded)
		fmt.Printf("Blacklisted:  %d\n", stats.Blacklisted)
		fmt.Printf("Safe:         %d\n", stats.ByRating[model.RatingSafe])
		fmt.Printf("Questionable: %d\n", stats.ByRating[model.RatingQuestionable])
		fmt.Printf("Explicit:     %d\n", stats.ByRating[model.RatingExplicit])
		return nil
	},
}

var postTopCmd = &cobra.Command{
	Use:   "top",
	Short: "List the most viewed posts",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd, "post top", args)
		if err != nil {
			return err
		}
		defer closeApp(cmd, a)

		posts, err := a.TopPosts(cmd.Context(), limit)
		if err != nil {
			return err
		}
		printPosts(posts)
		return nil
	},
}

func init() {
	postCmd.AddCommand(postImportCmd)
	postCmd.AddCommand(postListCmd)
	addFilterFlags(postListCmd)
	postCmd.AddCommand(postSearchCmd)
	addFilterFlags(postSearchCmd)
	postSearchCmd.Flags().StringSliceP("exclude", "x", nil, "Hide posts carrying any of these tags")
	postCmd.AddCommand(postShowCmd)
	postCmd.AddCommand(postDownloadCmd)
	postCmd.AddCommand(postBlacklistCmd)
	postCmd.AddCommand(postViewCmd)
	postCmd.AddCommand(postForgetCmd)
	postCmd.AddCommand(postStatsCmd)
	postCmd.AddCommand(postTopCmd)
	postTopCmd.Flags().IntP("limit", "n", ib.DefaultMostViewedLimit, "Number of posts to show")
}
