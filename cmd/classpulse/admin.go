package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"classpulse/internal/auth"
	"classpulse/internal/database"
	"classpulse/pkg/logger"
	"classpulse/pkg/types"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending SQLite schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := configFrom(cmd)
			if cfg.Database.Driver == database.DriverMemory {
				return fmt.Errorf("the memory driver has no schema to migrate")
			}

			manager, err := database.NewManager(cfg.Database.StoreConfig(), logger.Named("database"))
			if err != nil {
				return err
			}
			defer manager.Close()

			applied, err := manager.Migrate(cmd.Context())
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
				return nil
			}
			for _, name := range applied {
				fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", name)
			}
			return nil
		},
	}
}

func newTokenCmd() *cobra.Command {
	var (
		userID int64
		role   string
		name   string
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign an access token for a participant",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := configFrom(cmd)

			p := types.Participant{UserID: userID, Role: types.Role(role), DisplayName: name}
			if err := p.Validate(); err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = cfg.Auth.TokenTTL
			}

			verifier, err := auth.NewJWTVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
			if err != nil {
				return err
			}
			token, err := verifier.Sign(p, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().Int64Var(&userID, "user-id", 0, "user ID carried in the token")
	cmd.Flags().StringVar(&role, "role", string(types.RoleStudent), "instructor or student")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to auth.token_ttl)")
	_ = cmd.MarkFlagRequired("user-id")
	return cmd
}

func newClassroomCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "classroom",
		Short: "Manage classrooms and their rosters",
	}

	var (
		name         string
		instructorID int64
	)
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a classroom owned by an instructor",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := configFrom(cmd)
			store, err := database.Open(cmd.Context(), cfg.Database.Driver, cfg.Database.StoreConfig(), logger.Named("database"))
			if err != nil {
				return err
			}
			defer store.Close()

			id, err := store.CreateClassroom(cmd.Context(), name, instructorID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created classroom %d\n", id)
			return nil
		},
	}
	create.Flags().StringVar(&name, "name", "", "classroom name")
	create.Flags().Int64Var(&instructorID, "instructor", 0, "instructor user ID")
	_ = create.MarkFlagRequired("name")
	_ = create.MarkFlagRequired("instructor")

	var classroomID int64
	var students []int64
	enroll := &cobra.Command{
		Use:   "enroll",
		Short: "Enroll students in a classroom",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := configFrom(cmd)
			store, err := database.Open(cmd.Context(), cfg.Database.Driver, cfg.Database.StoreConfig(), logger.Named("database"))
			if err != nil {
				return err
			}
			defer store.Close()

			for _, studentID := range students {
				if err := store.Enroll(cmd.Context(), classroomID, studentID); err != nil {
					return fmt.Errorf("enroll student %d: %w", studentID, err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "enrolled %d students in classroom %d\n", len(students), classroomID)
			return nil
		},
	}
	enroll.Flags().Int64Var(&classroomID, "classroom", 0, "classroom ID")
	enroll.Flags().Int64SliceVar(&students, "student", nil, "student user ID (repeatable)")
	_ = enroll.MarkFlagRequired("classroom")
	_ = enroll.MarkFlagRequired("student")

	cmd.AddCommand(create, enroll)
	return cmd
}
