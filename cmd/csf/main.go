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

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"cseflow/internal/actor"
	"cseflow/internal/app"
	"cseflow/internal/config"
	"cseflow/internal/db"
	"cseflow/internal/domain"
	"cseflow/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "csf",
	Short: "CSE Flow CLI",
	Long: `CSE Flow runs the compliance form approval workflow.
Each client owns one form with seven fixed steps; the form moves through
draft, internal review, authority review, and correction cycles until
approved. The CLI serves the HTTP API, mints development tokens, and
queries the status index.`,
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
	viper.SetEnvPrefix("CSEFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(formsCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
}

func loadApp(workspace string) (*app.App, *config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, nil, err
	}
	a, err := app.New(cfg, app.Options{})
	if err != nil {
		return nil, nil, err
	}
	return a, cfg, nil
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			a, cfg, err := loadApp(workspace)
			if err != nil {
				return err
			}
			defer a.Close()
			if addr == "" {
				addr = cfg.Server.Addr
			}
			if basePath == "" {
				basePath = cfg.Server.BasePath
			}
			secret := os.Getenv("CSEFLOW_JWT_SECRET")
			if secret == "" {
				secret = cfg.Auth.JWTSecret
			}
			if secret == "" {
				return fmt.Errorf("CSEFLOW_JWT_SECRET or config auth.jwt_secret is required for bearer auth")
			}
			handler, err := server.New(server.Config{
				App:      a,
				BasePath: basePath,
				Auth:     server.AuthConfig{JWTSecret: secret, Logger: a.Logger},
			})
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
			fmt.Printf("Serving CSE Flow API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
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

func tokenCmd() *cobra.Command {
	var sub, role, clientID string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development JWT",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			r := domain.Role(role)
			if !r.Valid() {
				return fmt.Errorf("unknown role %q (creator, internal_reviewer, authority_reviewer)", role)
			}
			if clientID == "" && r != domain.RoleAuthorityReviewer {
				return fmt.Errorf("--client-id is required for role %s", role)
			}
			if ttl == 0 {
				ttl = cfg.TokenTTL()
			}
			token, err := server.MintToken(cfg.Auth.JWTSecret, domain.User{
				Sub:      sub,
				Role:     r,
				ClientID: clientID,
			}, ttl, time.Now())
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&sub, "sub", "dev-user", "subject id")
	cmd.Flags().StringVar(&role, "role", string(domain.RoleCreator), "role claim")
	cmd.Flags().StringVar(&clientID, "client-id", "", "client id claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to config)")
	return cmd
}

func formsCmd() *cobra.Command {
	forms := &cobra.Command{Use: "forms", Short: "Query the form index"}
	forms.AddCommand(formsListCmd())
	forms.AddCommand(formsShowCmd())
	return forms
}

func formsListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List forms by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, err := loadApp(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			defer a.Close()
			res, err := a.InvokeIndex(cmd.Context(), actor.Request{
				Method: "GET",
				Path:   "/index/forms-by-status",
				Params: actor.Params{"status": status},
			})
			if err != nil {
				return err
			}
			entries, _ := res.([]domain.IndexEntry)
			if viper.GetBool("json") {
				return printJSON(entries)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Client", "Title", "Status", "Created By", "Updated"})
			for _, e := range entries {
				tw.AppendRow(table.Row{e.ClientID, e.Title, e.Status, e.CreatedBy, e.LastUpdatedAt})
			}
			tw.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", string(domain.StatusPendingAuthorityReview), "form status filter")
	return cmd
}

func formsShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <client-id>",
		Short: "Show one client's form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, err := loadApp(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			defer a.Close()
			res, err := a.InvokeForm(cmd.Context(), args[0], actor.Request{
				Method: "GET",
				Path:   "/form",
			})
			if err != nil {
				return err
			}
			f, _ := res.(*domain.Form)
			if viper.GetBool("json") || f == nil {
				return printJSON(res)
			}
			fmt.Printf("Form %s  status=%s  created_by=%s\n", f.ClientID, f.Status, f.CreatedBy)
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Step", "Status", "Needs Correction", "Comments", "Updated By"})
			for _, id := range domain.StepOrder {
				s := f.Step(id)
				tw.AppendRow(table.Row{s.ID, s.Status, s.NeedsCorrection, len(s.Comments), s.LastUpdatedBy})
			}
			tw.Render()
			return nil
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	logRoot := &cobra.Command{Use: "log", Short: "Inspect the audit log"}
	var limit int
	tail := &cobra.Command{
		Use:   "tail <client-id>",
		Short: "Show recent events for a client's form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, err := loadApp(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			defer a.Close()
			records, err := a.Events.Recent(cmd.Context(), "form:"+args[0], limit)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(records)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"At", "Kind", "By", "Detail"})
			for _, r := range records {
				tw.AppendRow(table.Row{r.OccurredAt, r.Kind, r.ActorSub, string(r.Detail)})
			}
			tw.Render()
			return nil
		},
	}
	tail.Flags().IntVar(&limit, "limit", 20, "max events")
	logRoot.AddCommand(tail)
	return logRoot
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage config"}
	cfg.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default cseflow.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSON(c)
		},
	})
	return cfg
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
