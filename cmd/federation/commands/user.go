package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tendant/simple-federation/pkg/errors"
	"github.com/tendant/simple-federation/pkg/federation"
	"github.com/tendant/simple-federation/pkg/userstore"
)

var (
	userEmail    string
	userPhone    string
	userPassword string
	lookupBy     string
	searchFirst  int
	searchMax    int
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage federated users",
	Long: `Manage users in the configured external store.

Examples:
  federation user create alice --email alice@example.com --phone +15550100
  federation user passwd alice
  federation user search ali --max 10
  federation user set-attr alice phone +15550199`,
}

var userCreateCmd = &cobra.Command{
	Use:   "create <username>",
	Short: "Create a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, sess *federation.Session) error {
			user, err := sess.AddUser(ctx, args[0])
			if err != nil {
				return err
			}
			if userEmail != "" {
				user.SetEmail(userEmail)
			}
			if userPhone != "" {
				if err := user.SetSingleAttribute(ctx, federation.PhoneAttribute, userPhone); err != nil {
					return err
				}
			}
			if userPassword != "" {
				if _, err := sess.UpdateCredential(ctx, user.View(), federation.CredentialInput{
					Type:  federation.PasswordType,
					Value: userPassword,
				}); err != nil {
					return err
				}
			}
			return printUsers(ctx, cmd.OutOrStdout(), []*federation.UserAdapter{user})
		})
	},
}

var userGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Show one user by username, email or canonical id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, sess *federation.Session) error {
			user, err := lookupUser(ctx, sess, lookupBy, args[0])
			if err != nil {
				return err
			}
			if err := printUsers(ctx, cmd.OutOrStdout(), []*federation.UserAdapter{user}); err != nil {
				return err
			}
			attrs, err := user.Attributes(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout())
			printAttributes(cmd.OutOrStdout(), attrs)
			return nil
		})
	},
}

var userSearchCmd = &cobra.Command{
	Use:   "search [filter]",
	Short: "Search users whose username contains filter",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		params := map[string]string{}
		if len(args) == 1 {
			params[federation.SearchParam] = args[0]
		}
		return withSession(cmd, func(ctx context.Context, sess *federation.Session) error {
			users, err := sess.SearchForUsers(ctx, params, userstore.Page{Offset: searchFirst, Limit: searchMax})
			if err != nil {
				return err
			}
			return printUsers(ctx, cmd.OutOrStdout(), users)
		})
	},
}

var userCountCmd = &cobra.Command{
	Use:   "count",
	Short: "Print the number of users",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, sess *federation.Session) error {
			n, err := sess.UsersCount(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		})
	},
}

var userRemoveCmd = &cobra.Command{
	Use:     "remove <username>",
	Aliases: []string{"rm", "delete"},
	Short:   "Remove a user and its attributes",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, sess *federation.Session) error {
			user, err := lookupUser(ctx, sess, lookupBy, args[0])
			if err != nil {
				return err
			}
			if _, err := sess.RemoveUser(ctx, user.ID()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", user.Username())
			return nil
		})
	},
}

var userPasswdCmd = &cobra.Command{
	Use:   "passwd <username>",
	Short: "Set a user's password",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := passwordArg()
		if err != nil {
			return err
		}
		return withSession(cmd, func(ctx context.Context, sess *federation.Session) error {
			user, err := lookupUser(ctx, sess, lookupBy, args[0])
			if err != nil {
				return err
			}
			_, err = sess.UpdateCredential(ctx, user.View(), federation.CredentialInput{
				Type:  federation.PasswordType,
				Value: password,
			})
			return err
		})
	},
}

var userValidateCmd = &cobra.Command{
	Use:   "validate <username>",
	Short: "Check a password against the store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := passwordArg()
		if err != nil {
			return err
		}
		return withSession(cmd, func(ctx context.Context, sess *federation.Session) error {
			user, err := lookupUser(ctx, sess, lookupBy, args[0])
			if err != nil {
				return err
			}
			if !sess.IsValid(user.View(), federation.CredentialInput{Type: federation.PasswordType, Value: password}) {
				return errors.New(errors.ErrCodeInvalidCredentials, "invalid credentials")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "valid")
			return nil
		})
	},
}

var userSetAttrCmd = &cobra.Command{
	Use:   "set-attr <username> <name> [values...]",
	Short: "Set an attribute; with no values the attribute is removed",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, sess *federation.Session) error {
			user, err := lookupUser(ctx, sess, lookupBy, args[0])
			if err != nil {
				return err
			}
			if len(args) == 2 {
				return user.RemoveAttribute(ctx, args[1])
			}
			return user.SetAttribute(ctx, args[1], args[2:])
		})
	},
}

func init() {
	userCreateCmd.Flags().StringVar(&userEmail, "email", "", "email address")
	userCreateCmd.Flags().StringVar(&userPhone, "phone", "", "phone number")
	userCreateCmd.Flags().StringVar(&userPassword, "password", "", "initial password")

	for _, c := range []*cobra.Command{userGetCmd, userRemoveCmd, userPasswdCmd, userValidateCmd, userSetAttrCmd} {
		c.Flags().StringVar(&lookupBy, "by", "username", "lookup key: username, email or id")
	}
	for _, c := range []*cobra.Command{userPasswdCmd, userValidateCmd} {
		c.Flags().StringVar(&userPassword, "password", "", "password (prompted when omitted)")
	}

	userSearchCmd.Flags().IntVar(&searchFirst, "first", -1, "offset of the first result")
	userSearchCmd.Flags().IntVar(&searchMax, "max", -1, "maximum number of results")

	userCmd.AddCommand(userCreateCmd, userGetCmd, userSearchCmd, userCountCmd,
		userRemoveCmd, userPasswdCmd, userValidateCmd, userSetAttrCmd)
}

// withSession runs fn in one committed provider session
func withSession(cmd *cobra.Command, fn func(ctx context.Context, sess *federation.Session) error) error {
	ctx := cmd.Context()
	factory, provider, err := openProvider(ctx, nil)
	if err != nil {
		return err
	}
	defer factory.Close()
	defer provider.Close()

	return provider.Do(ctx, func(sess *federation.Session) error {
		return fn(ctx, sess)
	})
}

func lookupUser(ctx context.Context, sess *federation.Session, by, key string) (*federation.UserAdapter, error) {
	var (
		user *federation.UserAdapter
		err  error
	)
	switch strings.ToLower(by) {
	case "username":
		user, err = sess.UserByUsername(ctx, key)
	case "email":
		user, err = sess.UserByEmail(ctx, key)
	case "id":
		user, err = sess.UserByID(ctx, key)
	default:
		return nil, errors.Newf(errors.ErrCodeInvalidInput, "unknown lookup key %q", by)
	}
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, errors.NotFound("user", key)
	}
	return user, nil
}

func passwordArg() (string, error) {
	if userPassword != "" {
		return userPassword, nil
	}
	return promptPassword("Password: ")
}
