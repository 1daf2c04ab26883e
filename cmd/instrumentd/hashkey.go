package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/nerrad567/gray-logic-instruments/internal/auth"
)

// runHashKey prints an Argon2id hash for an API key read from stdin, or
// for a freshly generated key with --generate.
func runHashKey(args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("hash-key", flag.ContinueOnError)
	fs.SetOutput(stdout)
	generate := fs.Bool("generate", false, "generate a new random key")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var key string
	if *generate {
		k, err := auth.GenerateKey()
		if err != nil {
			return err
		}
		key = k
		fmt.Fprintf(stdout, "key:  %s\n", key)
	} else {
		line, err := bufio.NewReader(stdin).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("reading key: %w", err)
		}
		key = strings.TrimSpace(line)
		if key == "" {
			return errors.New("no key on stdin")
		}
	}

	hash, err := auth.HashKey(key)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "hash: %s\n", hash)
	return nil
}
