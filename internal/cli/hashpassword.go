package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"
)

var hashCost int

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password",
	Short: "Generate a bcrypt hash for basic_auth.password",
	Long: `Prompt for a password and print its bcrypt hash. Put the hash in
basic_auth.password instead of the plain password. When stdin is not a
terminal the first line of input is used.`,
	Args: cobra.NoArgs,
	RunE: runHashPassword,
}

func init() {
	hashPasswordCmd.Flags().IntVar(&hashCost, "cost", bcrypt.DefaultCost, "bcrypt cost")
	rootCmd.AddCommand(hashPasswordCmd)
}

func runHashPassword(cmd *cobra.Command, args []string) error {
	password, err := readPassword(cmd.InOrStdin(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword(password, hashCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(hash))
	return err
}

func readPassword(in io.Reader, prompt io.Writer) ([]byte, error) {
	f, ok := in.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		password := strings.TrimRight(line, "\r\n")
		if password == "" {
			return nil, errors.New("password cannot be empty")
		}
		return []byte(password), nil
	}

	fmt.Fprint(prompt, "Password: ")
	password, err := term.ReadPassword(int(f.Fd()))
	fmt.Fprintln(prompt)
	if err != nil {
		return nil, err
	}
	if len(password) == 0 {
		return nil, errors.New("password cannot be empty")
	}

	fmt.Fprint(prompt, "Confirm password: ")
	confirm, err := term.ReadPassword(int(f.Fd()))
	fmt.Fprintln(prompt)
	if err != nil {
		return nil, err
	}
	if string(password) != string(confirm) {
		return nil, errors.New("passwords do not match")
	}
	return password, nil
}
