package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"ib-go/internal/ib"
	"ib-go/internal/model"
)

func printTree(view *model.TreeView, depth int) {
	fmt.Printf("%s%s [%s] (%d posts)\n", strings.Repeat("  ", depth), view.Title, view.Key, len(view.PostIDs))
	for _, child := range view.Children {
		printTree(child, depth+1)
	}
}

var favCmd = &cobra.Command{
	Use:   "fav",
	Short: "Manage favorites folders",
}

var favTreeCmd = &cobra.Command{
	Use:   "tree",
	Short: "Show the favorites tree",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "fav tree", args)
		if err != nil {
			return err
		}
		defer closeApp(cmd, a)

		view, err := a.FavoritesTree(cmd.Context())
		if err != nil {
			return err
		}
		printTree(view, 0)
		return nil
	},
}

var favAddCmd = &cobra.Command{
	Use:   "add TITLE",
	Short: "Create a folder",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		parent, _ := cmd.Flags().GetInt64("parent")

		a, err := newApp(cmd, "fav add", args)
		if err != nil {
			return err
		}
		defer closeApp(cmd, a)

		key, err := a.AddFolder(cmd.Context(), parent, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Created folder %q [%d]\n", args[0], key)
		return nil
	},
}

var favRenameCmd = &cobra.Command{
	Use:   "rename KEY TITLE",
	Short: "Rename a folder",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := parseID(args[0])
		if err != nil {
			return err
		}

		a, err := newApp(cmd, "fav rename", args)
		if err != nil {
			return err
		}
		defer closeApp(cmd, a)

		return a.RenameFolder(cmd.Context(), key, args[1])
	},
}

var favRmCmd = &cobra.Command{
	Use:   "rm KEY",
	Short: "Delete a folder and all folders below it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := parseID(args[0])
		if err != nil {
			return err
		}

		a, err := newApp(cmd, "fav rm", args)
		if err != nil {
			return err
		}
		defer closeApp(cmd, a)

		if err := a.DeleteFolder(cmd.Context(), key); err != nil {
			return err
		}
		fmt.Printf("Deleted folder %d\n", key)
		return nil
	},
}

var favAddPostCmd = &cobra.Command{
	Use:   "add-post KEY POST_ID...",
	Short: "Add posts to a folder",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := parseID(args[0])
		if err != nil {
			return err
		}
		ids, err := parseIDs(args[1:])
		if err != nil {
			return err
		}

		a, err := newApp(cmd, "fav add-post", args)
		if err != nil {
			return err
		}
		defer closeApp(cmd, a)

		return a.AddFavorites(cmd.Context(), key, ids)
	},
}

var favRemovePostCmd = &cobra.Command{
	Use:   "remove-post KEY POST_ID...",
	Short: "Remove posts from a folder",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := parseID(args[0])
		if err != nil {
			return err
		}
		ids, err := parseIDs(args[1:])
		if err != nil {
			return err
		}

		a, err := newApp(cmd, "fav remove-post", args)
		if err != nil {
			return err
		}
		defer closeApp(cmd, a)

		return a.RemoveFavorites(cmd.Context(), key, ids)
	},
}

var favTagsCmd = &cobra.Command{
	Use:   "tags",
	Short: "Count tags over all favorited posts",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "fav tags", args)
		if err != nil {
			return err
		}
		defer closeApp(cmd, a)

		counts, err := a.FavoriteTags(cmd.Context())
		if err != nil {
			return err
		}

		tags := make([]string, 0, len(counts))
		for tag := range counts {
			tags = append(tags, tag)
		}
		sort.Slice(tags, func(i, j int) bool {
			if counts[tags[i]] != counts[tags[j]] {
				return counts[tags[i]] > counts[tags[j]]
			}
			return tags[i] < tags[j]
		})
		for _, tag := range tags {
			fmt.Printf("%6d  %s\n", counts[tag], tag)
		}
		return nil
	},
}

var favIDsCmd = &cobra.Command{
	Use:   "ids",
	Short: "List every favorited post id",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "fav ids", args)
		if err != nil {
			return err
		}
		defer closeApp(cmd, a)

		ids, err := a.FavoriteIDs(cmd.Context())
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Println(id)
		}
		return nil
	},
}

func init() {
	favCmd.AddCommand(favTreeCmd)
	favCmd.AddCommand(favAddCmd)
	favAddCmd.Flags().Int64P("parent", "p", ib.RootKey, "Key of the parent folder")
	favCmd.AddCommand(favRenameCmd)
	favCmd.AddCommand(favRmCmd)
	favCmd.AddCommand(favAddPostCmd)
	favCmd.AddCommand(favRemovePostCmd)
	favCmd.AddCommand(favTagsCmd)
	favCmd.AddCommand(favIDsCmd)
}
