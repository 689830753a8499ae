package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/DevanaGroup/titanium/internal/app"
	"github.com/DevanaGroup/titanium/internal/attach"
	"github.com/DevanaGroup/titanium/internal/db"
	"github.com/DevanaGroup/titanium/internal/domain"
	"github.com/DevanaGroup/titanium/internal/engine"
	"github.com/DevanaGroup/titanium/internal/migrate"
	"github.com/DevanaGroup/titanium/internal/notify"
	"github.com/DevanaGroup/titanium/internal/repo"
	"github.com/DevanaGroup/titanium/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "titanium",
	Short: "Titanium task transit CLI",
	Long: `Titanium moves tasks between collaborators through an auditable transit ledger.
Core concepts:
- Workspace: your .titanium directory holding the database, config and attachments.
- Task: a work item with an assignee; its transit process starts when it is initialized.
- Step: one leg of the journey; exactly one step is active at any time.
- Forward: pass the task to someone else; your step is archived with notes and files.
- Sign: accept a task sent to you by confirming your signature passphrase.
- Reject: send a task back with a mandatory justification.
- Audit log: diary of every transit action, view with 'titanium log tail'.`,
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
	viper.SetEnvPrefix("TITANIUM")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "acting user identifier")
	rootCmd.PersistentFlags().String("actor-name", "", "acting user display name")
	rootCmd.PersistentFlags().String("actor-email", "", "acting user email")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("actor-name", rootCmd.PersistentFlags().Lookup("actor-name"))
	_ = viper.BindPFlag("actor-email", rootCmd.PersistentFlags().Lookup("actor-email"))
}

func registerCommands() {
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(tramiteCmd())
	rootCmd.AddCommand(credentialCmd())
	rootCmd.AddCommand(collaboratorCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func session() engine.Session {
	return engine.Session{
		UserID:      viper.GetString("actor-id"),
		DisplayName: viper.GetString("actor-name"),
		Email:       viper.GetString("actor-email"),
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			fmt.Println("migrations applied")
			return nil
		},
	}
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Manage tasks"}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskShowCmd())
	task.AddCommand(taskAssignCmd())
	return task
}

func taskCreateCmd() *cobra.Command {
	var id, title, description, assignee string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			if title == "" {
				return fmt.Errorf("--title required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CreateTask(ctx, session(), engine.TaskCreateOptions{
					ID:          id,
					Title:       title,
					Description: description,
					AssigneeUID: assignee,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "task id (generated when empty)")
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&assignee, "assignee", "", "assignee collaborator uid")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tasks, err := e.Repo.ListTasks(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Assignee"})
				for _, t := range tasks {
					assignee := ""
					if t.AssigneeName != nil {
						assignee = *t.AssigneeName
					} else if t.AssigneeID != nil {
						assignee = *t.AssigneeID
					}
					tw.AppendRow(table.Row{t.ID, t.Title, t.Status, assignee})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func taskShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.Repo.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskAssignCmd() *cobra.Command {
	var assignee string
	cmd := &cobra.Command{
		Use:   "assign <id>",
		Short: "Assign a task to a collaborator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if assignee == "" {
				return fmt.Errorf("--assignee required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.AssignTask(ctx, session(), args[0], assignee)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&assignee, "assignee", "", "collaborator uid")
	_ = cmd.MarkFlagRequired("assignee")
	return cmd
}

func tramiteCmd() *cobra.Command {
	tr := &cobra.Command{
		Use:   "tramite",
		Short: "Transit operations",
		Long:  "Move a task through its transit ledger: initialize, forward, sign or reject.",
	}
	tr.AddCommand(tramiteInitCmd())
	tr.AddCommand(tramiteShowCmd())
	tr.AddCommand(tramiteForwardCmd())
	tr.AddCommand(tramiteSignCmd())
	tr.AddCommand(tramiteRejectCmd())
	tr.AddCommand(tramiteMetricsCmd())
	tr.AddCommand(tramitePermissionsCmd())
	return tr
}

func tramiteInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init <task-id>",
		Short: "Initialize the transit process for a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.InitializeProcess(ctx, session(), args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func tramiteShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show the transit ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.GetProcess(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(p)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Seq", "From", "To", "Status", "Active", "Created", "Minutes"})
				for _, s := range p.Steps {
					minutes := ""
					if s.TimeInAnalysis != nil {
						minutes = fmt.Sprintf("%d", *s.TimeInAnalysis)
					}
					tw.AppendRow(table.Row{s.Seq, s.FromUserName, s.ToUserName, s.Status, s.IsActive, s.CreatedAt, minutes})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func tramiteForwardCmd() *cobra.Command {
	var to, toName, toEmail, notes string
	var attachments []string
	cmd := &cobra.Command{
		Use:   "forward <task-id>",
		Short: "Forward a task to another collaborator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if to == "" {
				return fmt.Errorf("--to required")
			}
			files, closeFiles, err := openAttachments(attachments)
			if err != nil {
				return err
			}
			defer closeFiles()
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Forward(ctx, session(), engine.ForwardOptions{
					TaskID:      args[0],
					ToUserID:    to,
					ToUserName:  toName,
					ToUserEmail: toEmail,
					Notes:       notes,
					Files:       files,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "recipient collaborator uid")
	cmd.Flags().StringVar(&toName, "to-name", "", "recipient name (when not in the directory)")
	cmd.Flags().StringVar(&toEmail, "to-email", "", "recipient email (when not in the directory)")
	cmd.Flags().StringVar(&notes, "notes", "", "dispatch notes")
	cmd.Flags().StringSliceVar(&attachments, "attach", nil, "file to attach (repeatable)")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func tramiteSignCmd() *cobra.Command {
	var passphrase, notes string
	var attachments []string
	cmd := &cobra.Command{
		Use:   "sign <task-id>",
		Short: "Sign a task forwarded to you",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if passphrase == "" {
				return fmt.Errorf("--passphrase required")
			}
			files, closeFiles, err := openAttachments(attachments)
			if err != nil {
				return err
			}
			defer closeFiles()
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Sign(ctx, session(), engine.SignOptions{
					TaskID:     args[0],
					Passphrase: passphrase,
					Notes:      notes,
					Files:      files,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&passphrase, "passphrase", "", "signature passphrase")
	cmd.Flags().StringVar(&notes, "notes", "", "signature notes")
	cmd.Flags().StringSliceVar(&attachments, "attach", nil, "file to attach (repeatable)")
	_ = cmd.MarkFlagRequired("passphrase")
	return cmd
}

func tramiteRejectCmd() *cobra.Command {
	var reason string
	var attachments []string
	cmd := &cobra.Command{
		Use:   "reject <task-id>",
		Short: "Reject a task forwarded to you",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, closeFiles, err := openAttachments(attachments)
			if err != nil {
				return err
			}
			defer closeFiles()
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Reject(ctx, session(), engine.RejectOptions{
					TaskID: args[0],
					Reason: reason,
					Files:  files,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "rejection justification")
	cmd.Flags().StringSliceVar(&attachments, "attach", nil, "file to attach (repeatable)")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func tramiteMetricsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "metrics <task-id>",
		Short: "Show transit timing metrics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.Metrics(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	return cmd
}

func tramitePermissionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "permissions <task-id>",
		Short: "Show what the acting user may do with a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				perms, err := e.ProcessPermissions(ctx, session(), args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(perms)
			})
		},
	}
	return cmd
}

func credentialCmd() *cobra.Command {
	cred := &cobra.Command{Use: "credential", Short: "Signature passphrase management"}
	cred.AddCommand(credentialRegisterCmd())
	cred.AddCommand(credentialStatusCmd())
	return cred
}

func credentialRegisterCmd() *cobra.Command {
	var passphrase string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register or replace the signature passphrase",
		RunE: func(cmd *cobra.Command, args []string) error {
			if passphrase == "" {
				return fmt.Errorf("--passphrase required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.RegisterCredential(ctx, session(), passphrase); err != nil {
					return err
				}
				fmt.Println("signature passphrase registered")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&passphrase, "passphrase", "", "passphrase (min 6 characters)")
	_ = cmd.MarkFlagRequired("passphrase")
	return cmd
}

func credentialStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show whether a passphrase is registered",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				has, err := e.HasCredential(ctx, session().UserID)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]bool{"registered": has})
			})
		},
	}
	return cmd
}

func collaboratorCmd() *cobra.Command {
	col := &cobra.Command{Use: "collaborator", Short: "Collaborator directory"}
	col.AddCommand(collaboratorAddCmd())
	col.AddCommand(collaboratorListCmd())
	return col
}

func collaboratorAddCmd() *cobra.Command {
	var uid, first, last, email, hierarchy string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add or update a collaborator",
		RunE: func(cmd *cobra.Command, args []string) error {
			if uid == "" || first == "" {
				return fmt.Errorf("--uid and --first-name required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				c := domain.Collaborator{
					UID:            uid,
					FirstName:      first,
					LastName:       last,
					Email:          email,
					HierarchyLevel: hierarchy,
					CreatedAt:      time.Now().UTC().Format(time.RFC3339),
				}
				if err := r.UpsertCollaborator(ctx, c); err != nil {
					return err
				}
				stored, err := r.GetCollaborator(ctx, uid)
				if err != nil {
					return err
				}
				return printJSONOrTable(stored)
			})
		},
	}
	cmd.Flags().StringVar(&uid, "uid", "", "collaborator uid")
	cmd.Flags().StringVar(&first, "first-name", "", "first name")
	cmd.Flags().StringVar(&last, "last-name", "", "last name")
	cmd.Flags().StringVar(&email, "email", "", "email")
	cmd.Flags().StringVar(&hierarchy, "hierarchy", "", "hierarchy level (diretor, gerente, colaborador, cliente)")
	_ = cmd.MarkFlagRequired("uid")
	_ = cmd.MarkFlagRequired("first-name")
	return cmd
}

func collaboratorListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List collaborators",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListCollaborators(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"UID", "Name", "Email", "Hierarchy"})
				for _, c := range items {
					tw.AppendRow(table.Row{c.UID, c.FullName(), c.Email, c.HierarchyLevel})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func apikeyCmd() *cobra.Command {
	ak := &cobra.Command{Use: "apikey", Short: "API key management"}
	ak.AddCommand(apikeyCreateCmd())
	ak.AddCommand(apikeyListCmd())
	ak.AddCommand(apikeyRevokeCmd())
	return ak
}

func apikeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for the acting user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				raw := "tk_" + strings.ReplaceAll(uuid.New().String(), "-", "")
				key := domain.APIKey{
					ID:        uuid.New().String(),
					UserID:    viper.GetString("actor-id"),
					Name:      name,
					KeyHash:   repo.HashAPIKey(raw),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := r.InsertAPIKey(ctx, key); err != nil {
					return err
				}
				// Shown once; only the hash is stored.
				fmt.Printf("api key created: %s\n", raw)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys for the acting user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListAPIKeys(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Created"})
				for _, k := range items {
					tw.AppendRow(table.Row{k.ID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
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

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Audit log",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail audit events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.ListAuditEvents(ctx, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"When", "Action", "Subject", "Actor", "Detail"})
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.TS, evt.Action, evt.SubjectTitle, evt.ActorID, evt.Detail})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			rt, err := app.Open(workspace)
			if err != nil {
				return err
			}
			defer rt.Close()

			if addr == "" {
				addr = rt.Config.Server.Addr
			}
			if basePath == "" {
				basePath = rt.Config.Server.BasePath
			}
			secret := rt.Config.Auth.JWTSecret
			if secret == "" {
				secret = viper.GetString("jwt-secret")
			}
			if secret == "" && !rt.Config.Auth.AllowLegacyActorHeader {
				return fmt.Errorf("TITANIUM_JWT_SECRET is required for bearer auth")
			}

			handler, err := server.New(server.Config{
				Engine:   rt.Engine,
				BasePath: basePath,
				Auth: server.AuthConfig{
					JWTSecret:              secret,
					AllowLegacyActorHeader: rt.Config.Auth.AllowLegacyActorHeader,
					Logger:                 rt.Logger,
				},
				Logger: rt.Logger,
			})
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			if len(rt.Config.Webhooks) > 0 {
				dispatcher := notify.NewDispatcher(rt.Engine.Repo, rt.Config.Webhooks, rt.Logger)
				go dispatcher.Run(ctx)
			}

			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-ctx.Done()
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer shutdownCancel()
				srv.Shutdown(shutdownCtx)
			}()
			fmt.Printf("Serving Titanium API on http://%s%s (OpenAPI at %s/openapi.json)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (defaults to config)")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	rt, err := app.Open(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt.Engine)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func openAttachments(paths []string) ([]attach.File, func(), error) {
	var files []attach.File
	var handles []*os.File
	closeAll := func() {
		for _, h := range handles {
			h.Close()
		}
	}
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		handles = append(handles, f)
		files = append(files, attach.File{
			Name:    filepath.Base(p),
			Content: f,
		})
	}
	return files, closeAll, nil
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
