// cmd/kvctl is the CLI client for the cluster's wire protocol.
//
// Usage:
//
//	kvctl put mykey '{}' "hello world" --node localhost:13337
//	kvctl get mykey                    --node localhost:13337
//	kvctl add-node B                   --node localhost:13337
//	kvctl remove-node B                --node localhost:13337
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"dynamokv/internal/client"
)

var (
	nodeAddr string
	timeout  time.Duration
)

func main() {
	root := &cobra.Command{
		Use:   "kvctl",
		Short: "CLI client for the dynamokv cluster",
	}

	root.PersistentFlags().StringVarP(&nodeAddr, "node", "n",
		"localhost:13337", "cluster node address (host:port)")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second,
		"command round-trip timeout")

	root.AddCommand(putCmd(), getCmd(), addNodeCmd(), removeNodeCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func dial() (*client.Client, error) {
	return client.New(context.Background(), nodeAddr, timeout)
}

func putCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <key> <prev-context-json> <value>",
		Short: "Store a key-value pair, round-tripping the context a prior get returned",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()

			reply, err := c.Put(args[0], args[1], args[2])
			if err != nil {
				return err
			}
			fmt.Println(reply)
			return nil
		},
	}
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Retrieve the sibling set for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()

			reply, err := c.Get(args[0])
			if err != nil {
				return err
			}
			fmt.Println(reply)
			return nil
		},
	}
}

func addNodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add-node <host>",
		Short: "Add a host to the cluster (must be sent to the leader)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()

			reply, err := c.AddNode(args[0])
			if err != nil {
				return err
			}
			fmt.Println(reply)
			return nil
		},
	}
}

func removeNodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove-node <host>",
		Short: "Remove a host from the cluster (must be sent to the leader)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()

			reply, err := c.RemoveNode(args[0])
			if err != nil {
				return err
			}
			fmt.Println(reply)
			return nil
		},
	}
}
