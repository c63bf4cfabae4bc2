package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/flotilla-dev/flotilla/internal/core/vault"
)

// sealCmd handles the "seal" command: it reads a plaintext secret value from
// stdin and prints the sealed envelope for use in secrets.values. The
// deployer opens the envelope with the same passphrase at provisioning time,
// so configuration files never hold secret plaintext.
func sealCmd(args []string) int {
	flags := flag.NewFlagSet("seal", flag.ContinueOnError)
	configPath := flags.String("config", "", "path to config file")
	if err := flags.Parse(args); err != nil {
		return ExitConfigError
	}

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return ExitConfigError
	}
	if cfg.Secrets.Passphrase == "" {
		fmt.Fprintln(os.Stderr, "configuration error: secrets.passphrase is required to seal values")
		return ExitConfigError
	}

	raw, err := io.ReadAll(os.Stdin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read value from stdin: %v\n", err)
		return ExitFailure
	}
	// `echo value | flotilla seal` seals "value", not "value\n".
	value := strings.TrimSuffix(string(raw), "\n")
	if value == "" {
		fmt.Fprintln(os.Stderr, "no value on stdin")
		return ExitConfigError
	}

	sealed, err := vault.Seal(value, cfg.Secrets.Passphrase)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to seal value: %v\n", err)
		return ExitFailure
	}

	fmt.Println(sealed)
	return ExitSuccess
}
