package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Back up and restore the whole library",
}

var snapshotInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the snapshot encryption keys and check the vault",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "snapshot init", args)
		if err != nil {
			return err
		}
		defer closeApp(cmd, a)

		if a.EncryptionConfigured() {
			return fmt.Errorf("encryption keys already exist")
		}

		passphrase, err := readPassphrase("New passphrase: ")
		if err != nil {
			return err
		}
		confirm, err := readPassphrase("Repeat passphrase: ")
		if err != nil {
			return err
		}
		if passphrase != confirm {
			return fmt.Errorf("passphrases do not match")
		}

		if err := a.SetupEncryption(passphrase); err != nil {
			return err
		}
		fmt.Println("Snapshot encryption configured.")
		publicKey, err := a.PublicKey()
		if err != nil {
			return err
		}
		if publicKey != "" {
			fmt.Printf("Public key: %s\n", publicKey)
		}
		return nil
	},
}

var snapshotBackupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Store an encrypted snapshot in the vault",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "snapshot backup", args)
		if err != nil {
			return err
		}
		defer closeApp(cmd, a)

		name, err := a.Backup(cmd.Context())
		if err != nil {
			return fmt.Errorf("backup failed: %w", err)
		}
		fmt.Printf("Stored snapshot %s\n", name)
		return nil
	},
}

var snapshotRestoreCmd = &cobra.Command{
	Use:   "restore NAME",
	Short: "Replace the library with a snapshot from the vault",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "snapshot restore", args)
		if err != nil {
			return err
		}
		defer closeApp(cmd, a)

		passphrase, err := readPassphrase("Passphrase: ")
		if err != nil {
			return err
		}
		if err := a.Restore(cmd.Context(), args[0], passphrase); err != nil {
			return fmt.Errorf("restore failed: %w", err)
		}
		fmt.Printf("Restored snapshot %s\n", args[0])
		return nil
	},
}

var snapshotListCmd = &cobra.Command{
	Use:   "list",
	Short: "List snapshots in the vault",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "snapshot list", args)
		if err != nil {
			return err
		}
		defer closeApp(cmd, a)

		names, err := a.ListBackups()
		if err != nil {
			return err
		}
		if len(names) == 0 {
			fmt.Println("No snapshots stored.")
			return nil
		}
		for _, name := range names {
			fmt.Println(name)
		}
		return nil
	},
}

func init() {
	snapshotCmd.AddCommand(snapshotInitCmd)
	snapshotCmd.AddCommand(snapshotBackupCmd)
	snapshotCmd.AddCommand(snapshotRestoreCmd)
	snapshotCmd.AddCommand(snapshotListCmd)
}
