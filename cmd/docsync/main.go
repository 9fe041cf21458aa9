package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"docsync-go/internal/app"
	"docsync-go/internal/config"
	"docsync-go/internal/docsync"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var verbose bool

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates a DocsyncApp. The caller must defer a.Close().
// operation identifies the CLI command being run (e.g. "backup", "serve").
func newApp(operation string) (*app.DocsyncApp, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var opts []app.Option
	if verbose {
		opts = append(opts, app.WithLogLevel(slog.LevelDebug))
	}
	a, err := app.NewDocsyncApp(cfg, operation, opts...)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// readPassphrase prompts on the terminal without echo. confirm asks twice.
func readPassphrase(prompt string, confirm bool) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("a passphrase can only be entered on a terminal")
	}
	fmt.Fprint(os.Stderr, prompt)
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	if !confirm {
		return string(first), nil
	}
	fmt.Fprint(os.Stderr, "Confirm passphrase: ")
	second, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	if string(first) != string(second) {
		return "", errors.New("passphrases do not match")
	}
	return string(first), nil
}

func printJob(job *docsync.BackupJob) {
	fmt.Printf("Job:     %s\n", job.ID)
	fmt.Printf("Type:    %s\n", job.JobType)
	fmt.Printf("Status:  %s\n", job.Status)
	if job.CommitHash != "" {
		fmt.Printf("Commit:  %s\n", job.CommitHash)
	}
	if job.SnapshotKey != "" {
		fmt.Printf("Snapshot: %s\n", job.SnapshotKey)
	}
	if job.Result != "" {
		fmt.Printf("Result:  %s\n", job.Result)
	}
	if job.Error != "" {
		fmt.Printf("Error:   %s\n", job.Error)
	}
}

// jobErr turns a failed job into a non-zero exit.
func jobErr(job *docsync.BackupJob) error {
	if job.Status == docsync.JobFailed {
		return fmt.Errorf("job %s failed", job.ID)
	}
	return nil
}

var rootCmd = &cobra.Command{
	Use:          "docsync",
	Short:        "Sync wiki content with a git repository",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"])
		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}
		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Base Dir:     %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:      %s\n", cfg.LogDir)
		fmt.Printf("Database:     %s\n", cfg.Database.Type)
		fmt.Printf("Listen:       %s\n", cfg.Server.Listen)
		fmt.Printf("API keys:     %d\n", len(cfg.Server.APIKeys))
		fmt.Printf("Auto backup:  every %s\n", cfg.AutoBackupInterval())
		fmt.Printf("Snapshots:    %v (vault %s, encryption %s)\n",
			cfg.Snapshot.Enabled, cfg.Snapshot.Vault.Type, cfg.Snapshot.Encryption.Type)
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the auto backup scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("serve")
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return a.Serve(ctx)
	},
}

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Export all content and push it to the backup repository",
	RunE: func(cmd *cobra.Command, args []string) error {
		auto, _ := cmd.Flags().GetBool("auto")
		jobType := docsync.JobManual
		if auto {
			jobType = docsync.JobAuto
		}

		a, err := newApp("backup")
		if err != nil {
			return err
		}
		defer a.Close()

		job, err := a.RunBackup(cmd.Context(), jobType)
		if err != nil {
			return err
		}
		printJob(job)
		return jobErr(job)
	},
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Pull the backup repository and import its content",
	RunE: func(cmd *cobra.Command, args []string) error {
		modeFlag, _ := cmd.Flags().GetString("mode")
		mode, err := docsync.ParseImportMode(modeFlag)
		if err != nil {
			return err
		}

		a, err := newApp("import")
		if err != nil {
			return err
		}
		defer a.Close()

		job, err := a.RunImport(cmd.Context(), mode)
		if err != nil {
			return err
		}
		printJob(job)
		return jobErr(job)
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View recent jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp("history")
		if err != nil {
			return err
		}
		defer a.Close()

		jobs, err := a.History(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			fmt.Println("No jobs recorded.")
			return nil
		}

		for _, job := range jobs {
			duration := ""
			if job.CompletedAt != nil {
				duration = job.CompletedAt.Sub(job.StartedAt).Truncate(time.Millisecond).String()
			}
			commit := job.CommitHash
			if len(commit) > 12 {
				commit = commit[:12]
			}
			fmt.Printf("%s  %-6s  %s  %-9s  %-10s  %-12s  %s\n",
				job.ID,
				job.JobType,
				job.StartedAt.Format("2006-01-02 15:04:05"),
				job.Status,
				duration,
				commit,
				job.Error,
			)
		}
		return nil
	},
}

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "View or change the backup settings",
}

func printSettings(s docsync.Settings) {
	fmt.Printf("Repository:       %s\n", s.GitRepoURL)
	fmt.Printf("Branch:           %s\n", s.Branch())
	fmt.Printf("Backup path:      %s\n", s.BackupPath)
	fmt.Printf("SSH key:          %s\n", s.SSHKeyPath)
	fmt.Printf("Enabled:          %v\n", s.Enabled)
	fmt.Printf("Include versions: %v\n", s.IncludeVersions)
}

var settingsGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Show the backup settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("settings")
		if err != nil {
			return err
		}
		defer a.Close()

		s, err := a.Settings(cmd.Context())
		if err != nil {
			return err
		}
		printSettings(s)
		return nil
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Change the backup settings; only the given flags are updated",
	RunE: func(cmd *cobra.Command, args []string) error {
		var patch docsync.SettingsPatch
		flags := cmd.Flags()
		str := func(name string) *string {
			if !flags.Changed(name) {
				return nil
			}
			v, _ := flags.GetString(name)
			return &v
		}
		boolean := func(name string) *bool {
			if !flags.Changed(name) {
				return nil
			}
			v, _ := flags.GetBool(name)
			return &v
		}
		patch.GitRepoURL = str("repo")
		patch.SSHKeyPath = str("ssh-key")
		patch.BackupPath = str("path")
		patch.BranchName = str("branch")
		patch.Enabled = boolean("enabled")
		patch.IncludeVersions = boolean("include-versions")

		a, err := newApp("settings")
		if err != nil {
			return err
		}
		defer a.Close()

		s, err := a.UpdateSettings(cmd.Context(), patch)
		if err != nil {
			return err
		}
		printSettings(s)
		return nil
	},
}

var testConnectionCmd = &cobra.Command{
	Use:   "test-connection",
	Short: "Check that the configured repository can be cloned",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("test-connection")
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.TestConnection(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Println(res.Message)
		if !res.Success {
			return errors.New("connection test failed")
		}
		return nil
	},
}

var docCmd = &cobra.Command{
	Use:   "doc",
	Short: "Manage documents",
}

var docListCmd = &cobra.Command{
	Use:   "list",
	Short: "List documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("doc-list")
		if err != nil {
			return err
		}
		defer a.Close()

		docs, err := a.ListDocuments(cmd.Context())
		if err != nil {
			return err
		}
		for _, d := range docs {
			fmt.Printf("%-40s  %s  %s\n", d.Path, d.UpdatedAt.Format("2006-01-02 15:04:05"), d.Title)
		}
		return nil
	},
}

var docPutCmd = &cobra.Command{
	Use:   "put PATH",
	Short: "Create a document or add a new version of it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		title, _ := cmd.Flags().GetString("title")
		file, _ := cmd.Flags().GetString("file")
		view, _ := cmd.Flags().GetStringSlice("view-groups")
		edit, _ := cmd.Flags().GetStringSlice("edit-groups")
		summary, _ := cmd.Flags().GetString("summary")

		var content []byte
		var err error
		if file == "" || file == "-" {
			content, err = io.ReadAll(os.Stdin)
		} else {
			content, err = os.ReadFile(file)
		}
		if err != nil {
			return fmt.Errorf("reading content: %w", err)
		}

		a, err := newApp("doc-put")
		if err != nil {
			return err
		}
		defer a.Close()

		doc, created, err := a.PutDocument(cmd.Context(), app.DocumentInput{
			Path:       strings.Trim(args[0], "/"),
			Title:      title,
			Content:    string(content),
			ViewGroups: view,
			EditGroups: edit,
			Summary:    summary,
		})
		if err != nil {
			return err
		}
		if created {
			fmt.Printf("Created %s\n", doc.Path)
		} else {
			fmt.Printf("Updated %s\n", doc.Path)
		}
		return nil
	},
}

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage snapshot encryption keys",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the snapshot key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("keys-init")
		if err != nil {
			return err
		}
		defer a.Close()

		passphrase, err := readPassphrase("Passphrase for the private key: ", true)
		if err != nil {
			return err
		}
		if err := a.InitKeys(passphrase); err != nil {
			return err
		}
		fmt.Println("Snapshot keys created.")
		return nil
	},
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Work with backup snapshots",
}

var snapshotRestoreCmd = &cobra.Command{
	Use:   "restore KEY DEST",
	Short: "Restore a snapshot into an empty directory",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("snapshot-restore")
		if err != nil {
			return err
		}
		defer a.Close()

		var passphrase string
		if a.SnapshotEncrypted() {
			if passphrase, err = readPassphrase("Passphrase: ", false); err != nil {
				return err
			}
		}
		if err := a.RestoreSnapshot(cmd.Context(), args[0], args[1], passphrase); err != nil {
			return err
		}
		fmt.Printf("Restored %s to %s\n", args[0], args[1])
		return nil
	},
}

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Database maintenance",
}

var dbBackupCmd = &cobra.Command{
	Use:   "backup DEST",
	Short: "Write a copy of the database to DEST",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("db-backup")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.BackupDatabase(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Database written to %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug messages")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	backupCmd.Flags().Bool("auto", false, "Record the job as an automatic backup")
	importCmd.Flags().String("mode", string(docsync.ImportSmart), "Import mode: smart or force")
	historyCmd.Flags().IntP("limit", "n", docsync.DefaultJobLimit, "Maximum number of jobs to show")

	settingsCmd.AddCommand(settingsGetCmd)
	settingsCmd.AddCommand(settingsSetCmd)
	settingsSetCmd.Flags().String("repo", "", "Git repository URL")
	settingsSetCmd.Flags().String("ssh-key", "", "Path to the SSH private key")
	settingsSetCmd.Flags().String("path", "", "Local working copy path")
	settingsSetCmd.Flags().String("branch", "", "Branch name")
	settingsSetCmd.Flags().Bool("enabled", false, "Enable backups")
	settingsSetCmd.Flags().Bool("include-versions", false, "Export version history")

	docCmd.AddCommand(docListCmd)
	docCmd.AddCommand(docPutCmd)
	docPutCmd.Flags().String("title", "", "Document title")
	docPutCmd.Flags().StringP("file", "f", "-", "Content file, or - for stdin")
	docPutCmd.Flags().StringSlice("view-groups", nil, "Groups allowed to view")
	docPutCmd.Flags().StringSlice("edit-groups", nil, "Groups allowed to edit")
	docPutCmd.Flags().String("summary", "", "Change summary")
	docPutCmd.MarkFlagRequired("title")

	keysCmd.AddCommand(keysInitCmd)
	snapshotCmd.AddCommand(snapshotRestoreCmd)
	dbCmd.AddCommand(dbBackupCmd)

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(settingsCmd)
	rootCmd.AddCommand(testConnectionCmd)
	rootCmd.AddCommand(docCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(dbCmd)
}
