package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"permitdesk/internal/app"
	"permitdesk/internal/authz"
	"permitdesk/internal/config"
	"permitdesk/internal/db"
	"permitdesk/internal/domain"
	"permitdesk/internal/engine"
	"permitdesk/internal/lifecycle"
	"permitdesk/internal/repo"
	"permitdesk/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "pd",
	Short: "Permitdesk CLI",
	Long: `Permitdesk manages building and gas permit applications for a local permit office.
Core concepts:
- Workspace: the .permitdesk directory holding the SQLite database; permitdesk.yml configures the office.
- Applications: permit applications flow draft -> submitted -> under_review -> approved/rejected,
  with on_hold, withdrawn and expired as side exits. Rejected applications can be revised and resubmitted.
- Permit types: the catalog of offered permits (building.residential, gas.residential, ...), seeded from config.
- Actors: every caller has one role (applicant, contractor, reviewer, admin) that decides which
  actions are available on each application.
- Event log: an audit diary of every change, view with 'pd log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("PERMITDESK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("config", "", "config file (overrides workspace permitdesk.yml)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

func registerCommands() {
	rootCmd.AddCommand(applicationCmd())
	rootCmd.AddCommand(permitTypeCmd())
	rootCmd.AddCommand(actorCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(expireCmd())
	rootCmd.AddCommand(notificationsCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
}

func applicationCmd() *cobra.Command {
	appCmd := &cobra.Command{
		Use:     "application",
		Aliases: []string{"app"},
		Short:   "Manage permit applications",
	}
	appCmd.AddCommand(applicationCreateCmd())
	appCmd.AddCommand(applicationListCmd())
	appCmd.AddCommand(applicationShowCmd())
	appCmd.AddCommand(applicationUpdateCmd())
	appCmd.AddCommand(applicationActionsCmd())
	appCmd.AddCommand(applicationCertificateCmd())
	appCmd.AddCommand(applicationDeleteCmd())
	for _, tc := range transitionCommands {
		appCmd.AddCommand(transitionCmd(tc))
	}
	return appCmd
}

func applicationCreateCmd() *cobra.Command {
	var (
		permitType     string
		address        string
		description    string
		cost           float64
		contractor     string
		squareFootage  int
		stories        int
		applianceCount int
		linePressure   float64
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Draft a new permit application",
		RunE: func(cmd *cobra.Command, args []string) error {
			if permitType == "" {
				return fmt.Errorf("--type required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := cliActor(ctx, e)
				if err != nil {
					return err
				}
				pt, err := e.Repo.GetPermitType(ctx, permitType)
				if err != nil {
					return err
				}
				opts := engine.CreateOptions{PermitTypeID: permitType}
				switch pt.Kind {
				case domain.KindGas:
					info := &domain.GasPermitInfo{
						ProjectAddress:  address,
						WorkDescription: description,
						ProjectCost:     cost,
						ContractorName:  contractor,
					}
					if cmd.Flags().Changed("appliances") {
						info.ApplianceCount = &applianceCount
					}
					if cmd.Flags().Changed("line-pressure") {
						info.LinePressurePSI = &linePressure
					}
					opts.GasInfo = info
				default:
					info := &domain.BuildingPermitInfo{
						ProjectAddress:  address,
						WorkDescription: description,
						ProjectCost:     cost,
						ContractorName:  contractor,
					}
					if cmd.Flags().Changed("square-footage") {
						info.SquareFootage = &squareFootage
					}
					if cmd.Flags().Changed("stories") {
						info.Stories = &stories
					}
					opts.BuildingInfo = info
				}
				p, err := e.CreatePermit(ctx, actor, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&permitType, "type", "", "permit type id (see 'pd permit-type list')")
	cmd.Flags().StringVar(&address, "address", "", "project address")
	cmd.Flags().StringVar(&description, "description", "", "work description")
	cmd.Flags().Float64Var(&cost, "cost", 0, "estimated project cost")
	cmd.Flags().StringVar(&contractor, "contractor", "", "contractor name")
	cmd.Flags().IntVar(&squareFootage, "square-footage", 0, "square footage (building)")
	cmd.Flags().IntVar(&stories, "stories", 0, "stories (building)")
	cmd.Flags().IntVar(&applianceCount, "appliances", 0, "appliance count (gas)")
	cmd.Flags().Float64Var(&linePressure, "line-pressure", 0, "line pressure PSI (gas)")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func applicationListCmd() *cobra.Command {
	var status, kind, applicant string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List permit applications",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if status != "" {
					s, err := lifecycle.ParseStatus(status)
					if err != nil {
						return err
					}
					status = string(s)
				}
				items, err := e.Repo.ListPermits(ctx, repo.PermitFilter{
					Status:      status,
					Kind:        domain.PermitKind(kind),
					ApplicantID: applicant,
					Limit:       limit,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				t := table.NewWriter()
				t.SetOutputMirror(os.Stdout)
				t.AppendHeader(table.Row{"NUMBER", "KIND", "STATUS", "APPLICANT", "ADDRESS", "COST", "UPDATED"})
				for _, p := range items {
					t.AppendRow(table.Row{p.PermitNumber, p.Kind, p.Status, p.ApplicantID, p.ProjectAddress(), fmt.Sprintf("%.2f", p.ProjectCost()), p.UpdatedAt})
				}
				t.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&kind, "kind", "", "kind filter (building, gas)")
	cmd.Flags().StringVar(&applicant, "applicant", "", "applicant id filter")
	cmd.Flags().IntVar(&limit, "limit", 50, "max results")
	return cmd
}

func applicationShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id|number>",
		Short: "Show an application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := lookupPermit(ctx, e, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func applicationUpdateCmd() *cobra.Command {
	var address, description, contractor string
	var cost float64
	cmd := &cobra.Command{
		Use:   "update <id|number>",
		Short: "Update a draft or rejected application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := cliActor(ctx, e)
				if err != nil {
					return err
				}
				p, err := lookupPermit(ctx, e, args[0])
				if err != nil {
					return err
				}
				var building *domain.BuildingPermitInfo
				var gas *domain.GasPermitInfo
				switch p.Kind {
				case domain.KindGas:
					info := *p.GasInfo
					applyFlags(cmd, &info.ProjectAddress, address, &info.WorkDescription, description, &info.ProjectCost, cost, &info.ContractorName, contractor)
					gas = &info
				default:
					info := *p.BuildingInfo
					applyFlags(cmd, &info.ProjectAddress, address, &info.WorkDescription, description, &info.ProjectCost, cost, &info.ContractorName, contractor)
					building = &info
				}
				updated, err := e.UpdateDraft(ctx, actor, p.ID, building, gas)
				if err != nil {
					return err
				}
				return printJSONOrTable(updated)
			})
		},
	}
	cmd.Flags().StringVar(&address, "address", "", "project address")
	cmd.Flags().StringVar(&description, "description", "", "work description")
	cmd.Flags().Float64Var(&cost, "cost", 0, "estimated project cost")
	cmd.Flags().StringVar(&contractor, "contractor", "", "contractor name")
	return cmd
}

func applyFlags(cmd *cobra.Command, addrDst *string, addr string, descDst *string, desc string, costDst *float64, cost float64, contractorDst *string, contractor string) {
	if cmd.Flags().Changed("address") {
		*addrDst = addr
	}
	if cmd.Flags().Changed("description") {
		*descDst = desc
	}
	if cmd.Flags().Changed("cost") {
		*costDst = cost
	}
	if cmd.Flags().Changed("contractor") {
		*contractorDst = contractor
	}
}

func applicationActionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "actions <id|number>",
		Short: "List actions available to you",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := cliActor(ctx, e)
				if err != nil {
					return err
				}
				p, err := lookupPermit(ctx, e, args[0])
				if err != nil {
					return err
				}
				actions, err := e.AvailableActions(ctx, actor, p.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(actions)
			})
		},
	}
	return cmd
}

func applicationCertificateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "certificate <id|number>",
		Short: "Print the approval certificate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := lookupPermit(ctx, e, args[0])
				if err != nil {
					return err
				}
				s, err := lifecycle.ParseStatus(p.Status)
				if err != nil {
					return err
				}
				if !s.Approved() {
					return lifecycle.IllegalTransitionError{Status: s, Action: lifecycle.ActionDownloadCertificate}
				}
				cert := map[string]any{
					"permit_number":   p.PermitNumber,
					"kind":            p.Kind,
					"applicant_id":    p.ApplicantID,
					"project_address": p.ProjectAddress(),
					"approval_date":   p.ApprovalDate,
					"expiration_date": p.ExpirationDate,
					"conditions":      p.Conditions,
					"issued_by":       e.Config.Office.Name,
				}
				return printJSONOrTable(cert)
			})
		},
	}
	return cmd
}

func applicationDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id|number>",
		Short: "Delete a draft or withdrawn application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := cliActor(ctx, e)
				if err != nil {
					return err
				}
				p, err := lookupPermit(ctx, e, args[0])
				if err != nil {
					return err
				}
				return e.DeletePermit(ctx, actor, p.ID)
			})
		},
	}
	return cmd
}

type transitionSpec struct {
	use     string
	short   string
	action  lifecycle.Action
	notes   bool
	reason  bool
	aliases []string
}

var transitionCommands = []transitionSpec{
	{use: "submit", short: "Submit a draft for review", action: lifecycle.ActionSubmit},
	{use: "review", short: "Begin reviewing a submitted application", action: lifecycle.ActionBeginReview},
	{use: "approve", short: "Approve an application", action: lifecycle.ActionApprove, notes: true},
	{use: "reject", short: "Reject an application", action: lifecycle.ActionReject, reason: true},
	{use: "hold", short: "Put an application on hold", action: lifecycle.ActionHold},
	{use: "resume", short: "Resume an on-hold application", action: lifecycle.ActionResume},
	{use: "withdraw", short: "Withdraw your application", action: lifecycle.ActionWithdraw},
	{use: "revise", short: "Revise and resubmit after rejection", action: lifecycle.ActionRevise},
}

func transitionCmd(spec transitionSpec) *cobra.Command {
	var notes, conditions, reason string
	cmd := &cobra.Command{
		Use:     spec.use + " <id|number>",
		Short:   spec.short,
		Aliases: spec.aliases,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := cliActor(ctx, e)
				if err != nil {
					return err
				}
				p, err := lookupPermit(ctx, e, args[0])
				if err != nil {
					return err
				}
				updated, err := e.Transition(ctx, actor, p.ID, spec.action, lifecycle.Payload{
					Notes:      notes,
					Conditions: conditions,
					Reason:     reason,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(updated)
			})
		},
	}
	if spec.notes {
		cmd.Flags().StringVar(&notes, "notes", "", "approval notes")
		cmd.Flags().StringVar(&conditions, "conditions", "", "approval conditions (sets approved_with_conditions)")
	}
	if spec.reason {
		cmd.Flags().StringVar(&reason, "reason", "", "rejection reason (required)")
	}
	return cmd
}

func permitTypeCmd() *cobra.Command {
	pt := &cobra.Command{Use: "permit-type", Short: "Browse the permit type catalog"}
	pt.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List permit types",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListPermitTypes(ctx, false)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				t := table.NewWriter()
				t.SetOutputMirror(os.Stdout)
				t.AppendHeader(table.Row{"ID", "KIND", "NAME", "FEE", "REVIEW DAYS", "ACTIVE"})
				for _, pt := range items {
					t.AppendRow(table.Row{pt.ID, pt.Kind, pt.Name, fmt.Sprintf("%.2f", pt.BaseFee), pt.ReviewDays, pt.Active})
				}
				t.Render()
				return nil
			})
		},
	})
	pt.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Show a permit type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				item, err := e.Repo.GetPermitType(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(item)
			})
		},
	})
	return pt
}

func actorCmd() *cobra.Command {
	actor := &cobra.Command{Use: "actor", Short: "Manage actors and roles"}
	actor.AddCommand(actorGrantCmd())
	actor.AddCommand(actorShowCmd())
	actor.AddCommand(actorListCmd())
	actor.AddCommand(actorBootstrapCmd())
	return actor
}

func actorGrantCmd() *cobra.Command {
	var target, role string
	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Grant a role (requires admin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if target == "" || role == "" {
				return fmt.Errorf("--actor and --role required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := cliActor(ctx, e)
				if err != nil {
					return err
				}
				granted, err := e.GrantRole(ctx, actor, target, role)
				if err != nil {
					return err
				}
				return printJSONOrTable(granted)
			})
		},
	}
	cmd.Flags().StringVar(&target, "actor", "", "actor id")
	cmd.Flags().StringVar(&role, "role", "", "role (applicant, contractor, reviewer, admin)")
	return cmd
}

func actorShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show [id]",
		Short: "Show an actor's role and permissions",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				id := viper.GetString("actor-id")
				if len(args) == 1 {
					id = args[0]
				}
				actor, err := e.ResolveActor(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"actor_id":    actor.ID,
					"role":        actor.Role,
					"permissions": actor.Permissions,
				})
			})
		},
	}
	return cmd
}

func actorListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered actors",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListActors(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				t := table.NewWriter()
				t.SetOutputMirror(os.Stdout)
				t.AppendHeader(table.Row{"ID", "ROLE", "CREATED"})
				for _, a := range items {
					t.AppendRow(table.Row{a.ID, a.Role, a.CreatedAt})
				}
				t.Render()
				return nil
			})
		},
	}
	return cmd
}

func actorBootstrapCmd() *cobra.Command {
	var target, role string
	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Set an actor role without permission checks (dev only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if target == "" || role == "" {
				return fmt.Errorf("--actor and --role required")
			}
			if _, err := authz.ParseRole(role); err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.SetActorRole(ctx, nil, target, role, time.Now().UTC().Format(time.RFC3339))
			})
		},
	}
	cmd.Flags().StringVar(&target, "actor", "", "actor id")
	cmd.Flags().StringVar(&role, "role", "", "role")
	return cmd
}

func apikeyCmd() *cobra.Command {
	key := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	key.AddCommand(apikeyCreateCmd())
	key.AddCommand(apikeyListCmd())
	key.AddCommand(apikeyRevokeCmd())
	return key
}

func apikeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				secret := uuid.New().String()
				rec := domain.APIKey{
					ID:        uuid.New().String(),
					ActorID:   viper.GetString("actor-id"),
					Name:      name,
					KeyHash:   repo.HashAPIKey(secret),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := r.InsertAPIKey(ctx, nil, rec); err != nil {
					return err
				}
				// The plain key is only shown once.
				return printJSONOrTable(map[string]string{
					"id":      rec.ID,
					"actor":   rec.ActorID,
					"api_key": secret,
				})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var actorID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListAPIKeys(ctx, actorID)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "filter by actor id")
	return cmd
}

func apikeyRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func statsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Application counts by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				counts, err := e.Repo.CountPermitsByStatus(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(counts)
				}
				fmt.Printf("Office: %s\n", e.Config.Office.Name)
				fmt.Println("Applications:")
				for status, c := range counts {
					fmt.Printf("  %s: %d\n", status, c)
				}
				return nil
			})
		},
	}
	return cmd
}

func expireCmd() *cobra.Command {
	expire := &cobra.Command{Use: "expire", Short: "Expiry maintenance"}
	expire.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Expire approved permits past their expiration date",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				n, err := e.ExpireOverdue(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("Expired %d permit(s)\n", n)
				return nil
			})
		},
	})
	return expire
}

func notificationsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "notifications",
		Short: "Recent status-change notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListNotifications(ctx, limit)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "max results")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{Use: "log", Short: "Inspect the event log"}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(cmd.Context(), n, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage office configuration"}
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write the default permitdesk.yml to the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the workspace config",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := viper.GetString("config")
			var err error
			if path != "" {
				_, err = config.FromFile(path)
			} else {
				_, err = config.Load(viper.GetString("workspace"))
			}
			if err != nil {
				return err
			}
			fmt.Println("config ok")
			return nil
		},
	})
	return cfg
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowLegacy bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, closeDB, err := app.NewEngine(cmd.Context(), viper.GetString("workspace"), viper.GetString("config"))
			if err != nil {
				return err
			}
			defer closeDB()
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("PERMITDESK_JWT_SECRET"),
				AllowLegacyActorHeader: allowLegacy,
			}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("PERMITDESK_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Permitdesk API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().BoolVar(&allowLegacy, "allow-legacy-actor-header", false, "accept unauthenticated X-Actor-Id (deprecated)")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	e, closeDB, err := app.NewEngine(ctx, viper.GetString("workspace"), viper.GetString("config"))
	if err != nil {
		return err
	}
	defer closeDB()
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	conn, _, err := app.Open(ctx, viper.GetString("workspace"), viper.GetString("config"))
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, repo.Repo{DB: conn})
}

func cliActor(ctx context.Context, e engine.Engine) (authz.Actor, error) {
	return e.ResolveActor(ctx, viper.GetString("actor-id"))
}

// lookupPermit accepts either the UUID or the display number (BP000042).
func lookupPermit(ctx context.Context, e engine.Engine, ref string) (domain.Permit, error) {
	ref = strings.TrimSpace(ref)
	if strings.HasPrefix(ref, "BP") || strings.HasPrefix(ref, "GP") {
		if p, err := e.Repo.GetPermitByNumber(ctx, ref); err == nil {
			return p, nil
		}
	}
	return e.Repo.GetPermit(ctx, ref)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
