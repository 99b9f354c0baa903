package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const serviceName = "catalog-sync"

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     serviceName,
		Short:   "Keeps a local replica of each tenant's Shopify catalog",
		Version: Version,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(resyncCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(keygenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
