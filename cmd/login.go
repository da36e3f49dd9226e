package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Tiliavir/tab-tracker/internal/runtime"
)

var loginEmail string

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign the agent in to the backend",
	Long: `Sign the agent in. The password is read from $TABT_PASSWORD, or from the
first line of standard input.`,
	Args: cobra.NoArgs,
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored credentials",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rep := sendMessage(runtime.Message{Type: runtime.MsgLogout})
		if !rep.Success {
			fmt.Fprintln(os.Stderr, rep.Error)
			os.Exit(1)
		}
		fmt.Println("Signed out. New activity will be queued until you sign in again.")
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVar(&loginEmail, "email", "", "Account email (required)")
	_ = loginCmd.MarkFlagRequired("email")
}

func runLogin(cmd *cobra.Command, args []string) error {
	password := os.Getenv("TABT_PASSWORD")
	if password == "" {
		fmt.Fprint(os.Stderr, "Password: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			fmt.Fprintln(os.Stderr, "\nno password given")
			os.Exit(1)
		}
		password = strings.TrimRight(line, "\r\n")
	}

	rep := sendMessage(runtime.Message{Type: runtime.MsgLogin, Email: loginEmail, Password: password})
	if !rep.Success {
		fmt.Fprintln(os.Stderr, "Login failed:", rep.Error)
		os.Exit(1)
	}
	fmt.Printf("Signed in as %s. Queued activity is being synced.\n", loginEmail)
	return nil
}

// sendMessage delivers m to the running agent or exits.
func sendMessage(m runtime.Message) runtime.Reply {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	rep, err := agentClient().Send(ctx, m)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	return rep
}
