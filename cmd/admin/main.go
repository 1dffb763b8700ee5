// Package main provides operator utilities for ZalupaSPB.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"zalupaspb/internal/bootstrap"
	"zalupaspb/internal/config"
	"zalupaspb/internal/models"
	"zalupaspb/internal/service"
)

func usage() {
	fmt.Println("Usage:")
	fmt.Println("  go run ./cmd/admin/main.go promote <user_id> <role>      - Set role (user, moderator, admin)")
	fmt.Println("  go run ./cmd/admin/main.go list-staff                     - List moderators and admins")
	fmt.Println("  go run ./cmd/admin/main.go issue-invite <user_id> [role]  - Issue an invite on behalf of a user")
	fmt.Println("  go run ./cmd/admin/main.go issue-key <user_id> [days]     - Issue an activation key on behalf of staff")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, rdb, err := bootstrap.InitRuntime(cfg, bootstrap.Options{})
	if err != nil {
		log.Fatalf("Failed to initialize runtime: %v", err)
	}
	_, services := bootstrap.Services(cfg, db, rdb)
	ctx := context.Background()

	args := os.Args[2:]
	switch command := os.Args[1]; command {
	case "promote":
		if len(args) < 2 {
			fmt.Println("Usage: go run ./cmd/admin/main.go promote <user_id> <role>")
			os.Exit(1)
		}
		err = promote(ctx, services, args[0], args[1])

	case "list-staff":
		err = listStaff(ctx, services)

	case "issue-invite":
		if len(args) < 1 {
			fmt.Println("Usage: go run ./cmd/admin/main.go issue-invite <user_id> [role]")
			os.Exit(1)
		}
		role := string(models.RoleUser)
		if len(args) > 1 {
			role = args[1]
		}
		err = issueInvite(ctx, services, args[0], role)

	case "issue-key":
		if len(args) < 1 {
			fmt.Println("Usage: go run ./cmd/admin/main.go issue-key <user_id> [days]")
			os.Exit(1)
		}
		days := ""
		if len(args) > 1 {
			days = args[1]
		}
		err = issueKey(ctx, services, args[0], days)

	default:
		fmt.Printf("Unknown command: %s\n", command)
		usage()
		os.Exit(1)
	}

	if err != nil {
		var appErr *models.AppError
		if errors.As(err, &appErr) && appErr.Code != models.CodeInternal {
			fmt.Printf("❌ %s\n", appErr.Message)
			os.Exit(1)
		}
		log.Fatalf("Command failed: %v", err)
	}
}

func parseUserID(raw string) (uint, error) {
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		return 0, models.NewValidationError(fmt.Sprintf("invalid user id %q", raw))
	}
	return uint(id), nil
}

func promote(ctx context.Context, services *service.Services, rawID, rawRole string) error {
	id, err := parseUserID(rawID)
	if err != nil {
		return err
	}
	role, ok := models.ParseRole(rawRole)
	if !ok {
		return models.NewValidationError("Role must be user, moderator or admin")
	}

	user, err := services.Admin.Promote(ctx, id, role)
	if err != nil {
		return err
	}
	fmt.Printf("✅ %s (ID: %d) is now %s\n", user.Username, user.ID, user.Role)
	return nil
}

func listStaff(ctx context.Context, services *service.Services) error {
	staff, err := services.Admin.ListStaff(ctx)
	if err != nil {
		return err
	}
	if len(staff) == 0 {
		fmt.Println("No staff accounts found")
		return nil
	}

	fmt.Printf("Staff (%d):\n", len(staff))
	for _, u := range staff {
		linked := "-"
		if u.IsLinked() {
			linked = u.DiscordUsername
		}
		fmt.Printf("  %-6d %-30s %-10s discord=%s\n", u.ID, u.Username, u.Role, linked)
	}
	return nil
}

func issueInvite(ctx context.Context, services *service.Services, rawID, rawRole string) error {
	id, err := parseUserID(rawID)
	if err != nil {
		return err
	}
	role, ok := models.ParseRole(rawRole)
	if !ok {
		return models.NewValidationError("Role must be user, moderator or admin")
	}

	invite, err := services.Invites.Issue(ctx, id, service.IssueInviteInput{Role: role})
	if err != nil {
		return err
	}
	fmt.Printf("✅ Invite %s (%s) expires %s\n", invite.Code, invite.Role, invite.ExpiresAt.Format(time.RFC3339))
	return nil
}

func issueKey(ctx context.Context, services *service.Services, rawID, rawDays string) error {
	id, err := parseUserID(rawID)
	if err != nil {
		return err
	}

	var in service.IssueKeyInput
	if rawDays != "" {
		days, err := strconv.Atoi(rawDays)
		if err != nil || days <= 0 {
			return models.NewValidationError(fmt.Sprintf("invalid day count %q", rawDays))
		}
		in.Duration = time.Duration(days) * 24 * time.Hour
	}

	key, err := services.Keys.Issue(ctx, id, in)
	if err != nil {
		return err
	}
	fmt.Printf("✅ Key %s (%s, %d days)\n", key.Code, key.Type, key.Duration/int64((24*time.Hour)/time.Second))
	return nil
}
