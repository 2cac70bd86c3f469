package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"authgate/internal/gateway/authn"
)

func newHashCmd() *cobra.Command {
	var (
		algorithm  string
		iterations int
		salt       string
		username   string
	)

	cmd := &cobra.Command{
		Use:   "hash PASSWORD",
		Short: "Derive a stored password hash",
		Long: `Derive the stored hash of PASSWORD as an accounts file entry.

The hash is the hex digest of salt+password, re-digested iterations-1 times.
A random salt is generated unless --salt is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := authn.NewHashedVerifier(algorithm, iterations)
			if err != nil {
				return err
			}
			if salt == "" {
				b := make([]byte, 16)
				rand.Read(b)
				salt = hex.EncodeToString(b)
			}

			out := cmd.OutOrStdout()
			if username != "" {
				fmt.Fprintf(out, "- username: %s\n  ", username)
			}
			fmt.Fprintf(out, "salt: %s\n", salt)
			if username != "" {
				fmt.Fprint(out, "  ")
			}
			fmt.Fprintf(out, "password_hash: %s\n", v.Hash(salt, args[0]))
			return nil
		},
	}
	cmd.Flags().StringVar(&algorithm, "algorithm", authn.DefaultAlgorithm, "digest algorithm")
	cmd.Flags().IntVar(&iterations, "iterations", authn.DefaultIterations, "hash iterations")
	cmd.Flags().StringVar(&salt, "salt", "", "salt (random when empty)")
	cmd.Flags().StringVar(&username, "username", "", "emit a complete accounts entry for this user")
	return cmd
}
