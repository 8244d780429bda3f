package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"ib-go/internal/model"
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Manage saved searches",
}

var searchSaveCmd = &cobra.Command{
	Use:   "save TAG...",
	Short: "Save a tag search",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		excluded, _ := cmd.Flags().GetStringSlice("exclude")
		rating, _ := cmd.Flags().GetString("rating")

		a, err := newApp(cmd, "search save", args)
		if err != nil {
			return err
		}
		defer closeApp(cmd, a)

		s, err := a.SaveSearch(cmd.Context(), args, excluded, model.Rating(rating))
		if err != nil {
			return err
		}
		fmt.Printf("Saved search #%d\n", s.ID)
		return nil
	},
}

var searchListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved searches",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "search list", args)
		if err != nil {
			return err
		}
		defer closeApp(cmd, a)

		searches, err := a.ListSearches(cmd.Context())
		if err != nil {
			return err
		}
		if len(searches) == 0 {
			fmt.Println("No saved searches.")
			return nil
		}
		for _, s := range searches {
			excluded := ""
			if len(s.ExcludedTags) > 0 {
				excluded = "  -" + strings.Join(s.ExcludedTags, " -")
			}
			fmt.Printf("#%d  %-12s  %s%s  (%d previews)\n",
				s.ID, s.Rating, strings.Join(s.Tags, " "), excluded, len(s.Previews))
		}
		return nil
	},
}

var searchRunCmd = &cobra.Command{
	Use:   "run ID",
	Short: "Run a saved search",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}

		a, err := newApp(cmd, "search run", args)
		if err != nil {
			return err
		}
		defer closeApp(cmd, a)

		opts, err := filterOptions(cmd, a)
		if err != nil {
			return err
		}
		posts, err := a.RunSearch(cmd.Context(), id, opts)
		if err != nil {
			return err
		}
		printPosts(posts)
		return nil
	},
}

var searchRmCmd = &cobra.Command{
	Use:   "rm ID",
	Short: "Delete a saved search",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}

		a, err := newApp(cmd, "search rm", args)
		if err != nil {
			return err
		}
		defer closeApp(cmd, a)

		if err := a.DeleteSearch(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Printf("Deleted saved search #%d\n", id)
		return nil
	},
}

func init() {
	searchCmd.AddCommand(searchSaveCmd)
	searchSaveCmd.Flags().StringSliceP("exclude", "x", nil, "Tags the results must not carry")
	searchSaveCmd.Flags().String("rating", string(model.RatingAny), "Rating filter stored with the search")
	searchCmd.AddCommand(searchListCmd)
	searchCmd.AddCommand(searchRunCmd)
	addFilterFlags(searchRunCmd)
	searchCmd.AddCommand(searchRmCmd)
}
