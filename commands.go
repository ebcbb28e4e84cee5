package main

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/deemkeen/fedsync/activitypub"
	"github.com/deemkeen/fedsync/domain"
	"github.com/deemkeen/fedsync/util"
	"github.com/spf13/cobra"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#8BE9FD")).Padding(0, 1)
	rowStyle     = lipgloss.NewStyle().Padding(0, 1)
	activeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#50FA7B"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFB86C"))
	dangerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5555"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#6272A4"))
)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(mutedStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return rowStyle
		}).
		Headers(headers...)
}

func accountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage local accounts",
	}

	var displayName string
	create := &cobra.Command{
		Use:   "create <username>",
		Short: "Create a local account with a fresh signing key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				keys, err := util.GeneratePemKeypair()
				if err != nil {
					return err
				}
				acc, err := a.db.CreateAccount(args[0], displayName, keys)
				if err != nil {
					return fmt.Errorf("failed to create account: %w", err)
				}
				fmt.Printf("Created %s\n", a.env.ActorURI(acc.Username))
				return nil
			})
		},
	}
	create.Flags().StringVar(&displayName, "display-name", "", "display name")

	list := &cobra.Command{
		Use:   "list",
		Short: "List local accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				accounts, err := a.db.ReadAllAccounts()
				if err != nil {
					return err
				}
				t := newTable("USERNAME", "ACTOR", "CREATED")
				for _, acc := range accounts {
					t.Row(acc.Username, a.env.ActorURI(acc.Username), acc.CreatedAt.Local().Format(time.DateTime))
				}
				fmt.Println(t.Render())
				return nil
			})
		},
	}

	cmd.AddCommand(create, list)
	return cmd
}

func instanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "instance",
		Short: "Inspect and moderate federated instances",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List every instance this server has exchanged activities with",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				instances, err := a.db.ReadAllInstances()
				if err != nil {
					return err
				}
				t := newTable("DOMAIN", "STATUS", "FIRST SEEN", "LAST SEEN")
				for _, inst := range instances {
					status := activeStyle.Render(string(inst.Status))
					if !inst.IsActive() {
						status = dangerStyle.Render(string(inst.Status))
					}
					t.Row(inst.Domain, status,
						inst.FirstSeen.Local().Format(time.DateTime),
						inst.LastSeen.Local().Format(time.DateTime))
				}
				fmt.Println(t.Render())
				return nil
			})
		},
	}

	cmd.AddCommand(list,
		instanceStatusCmd("suspend", "Stop exchanging activities with an instance", domain.InstanceSuspended),
		instanceStatusCmd("activate", "Resume federation with an instance", domain.InstanceActive),
	)
	return cmd
}

func instanceStatusCmd(use, short string, status domain.InstanceStatus) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <domain>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				if err := a.db.SetInstanceStatus(args[0], status); err != nil {
					return err
				}
				fmt.Printf("%s is now %s\n", args[0], status)
				return nil
			})
		},
	}
}

func postCmd() *cobra.Command {
	var (
		visibility string
		mentions   []string
		inReplyTo  string
	)

	cmd := &cobra.Command{
		Use:   "post <username> <content>",
		Short: "Publish a note",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			vis, err := domain.ParseVisibility(visibility)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				acc, err := a.db.ReadAccByUsername(args[0])
				if err != nil {
					return fmt.Errorf("unknown account %s: %w", args[0], err)
				}

				actors := make([]string, 0, len(mentions))
				for _, m := range mentions {
					actor, err := a.env.DiscoverActor(ctx, m)
					if err != nil {
						return err
					}
					actors = append(actors, actor)
				}

				post, report, err := a.env.PublishNote(ctx, acc, args[1], vis, actors, inReplyTo)
				if err != nil {
					return err
				}
				fmt.Printf("Published %s (%s)\n", post.ObjectURI, post.Visibility)
				printReport(report)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&visibility, "visibility", "public", "public, unlisted, private or direct")
	cmd.Flags().StringSliceVar(&mentions, "mention", nil, "user@domain or actor URI to mention (repeatable)")
	cmd.Flags().StringVar(&inReplyTo, "reply-to", "", "object URI this note replies to")
	return cmd
}

// objectCmd builds the "<verb> <username> <uri>" commands.
func objectCmd(use, short string, send func(env *activitypub.Env, ctx context.Context, acc *domain.Account, uri string) (*activitypub.FanoutReport, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <username> <uri>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				acc, err := a.db.ReadAccByUsername(args[0])
				if err != nil {
					return fmt.Errorf("unknown account %s: %w", args[0], err)
				}
				report, err := send(a.env, ctx, acc, args[1])
				if err != nil {
					return err
				}
				printReport(report)
				return nil
			})
		},
	}
}

func likeCmd() *cobra.Command {
	return objectCmd("like", "Like an object", (*activitypub.Env).SendLike)
}

func boostCmd() *cobra.Command {
	return objectCmd("boost", "Announce an object to your followers", (*activitypub.Env).SendAnnounce)
}

func undoCmd() *cobra.Command {
	return objectCmd("undo", "Retract one of your activities by its id", (*activitypub.Env).UndoActivity)
}

func followCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "follow <username> <handle|uri>",
		Short: "Follow a remote actor",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				acc, err := a.db.ReadAccByUsername(args[0])
				if err != nil {
					return fmt.Errorf("unknown account %s: %w", args[0], err)
				}
				target, err := a.env.DiscoverActor(ctx, args[1])
				if err != nil {
					return err
				}
				report, err := a.env.SendFollow(ctx, acc, target)
				if err != nil {
					return err
				}
				fmt.Printf("Follow of %s pending until accepted\n", target)
				printReport(report)
				return nil
			})
		},
	}
}

func reactCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "react <username> <uri> <emoji>",
		Short: "React to an object with an emoji",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				acc, err := a.db.ReadAccByUsername(args[0])
				if err != nil {
					return fmt.Errorf("unknown account %s: %w", args[0], err)
				}
				report, err := a.env.CreateEmojiReaction(ctx, acc, args[1], args[2])
				if err != nil {
					return err
				}
				printReport(report)
				return nil
			})
		},
	}
}

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat <username> <recipient> <message>",
		Short: "Send a direct chat message",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				acc, err := a.db.ReadAccByUsername(args[0])
				if err != nil {
					return fmt.Errorf("unknown account %s: %w", args[0], err)
				}
				recipient, err := a.env.DiscoverActor(ctx, args[1])
				if err != nil {
					return err
				}
				msg, report, err := a.env.SendChatMessage(ctx, acc, recipient, args[2])
				if err != nil {
					return err
				}
				fmt.Printf("Sent %s\n", msg.URI)
				printReport(report)
				return nil
			})
		},
	}
}

func printReport(report *activitypub.FanoutReport) {
	if report == nil {
		return
	}
	if len(report.Delivered)+len(report.Queued)+len(report.Dropped) == 0 {
		fmt.Println(mutedStyle.Render("No remote recipients"))
		return
	}

	t := newTable("RECIPIENT", "RESULT")
	for _, r := range report.Delivered {
		t.Row(r, activeStyle.Render("delivered"))
	}
	for _, r := range report.Queued {
		t.Row(r, warningStyle.Render("queued for retry"))
	}
	for _, r := range report.Dropped {
		t.Row(r, dangerStyle.Render("dropped"))
	}
	fmt.Println(t.Render())
	fmt.Println(mutedStyle.Render(fmt.Sprintf("%d delivered, %d queued, %d dropped",
		len(report.Delivered), len(report.Queued), len(report.Dropped))))
}
