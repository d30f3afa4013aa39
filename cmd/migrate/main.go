package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"learnhub.org/internal/auth"
	"learnhub.org/internal/migrate"
	"learnhub.org/internal/obs"
	"learnhub.org/internal/store/pg"
)

const usage = "usage: migrate [-dsn DSN] up|down|seed|status|admin [-email E -password P -name N]"

func main() {
	log := obs.Logger()
	dsn := flag.String("dsn", os.Getenv("LEARNHUB_PG_DSN"), "PostgreSQL DSN")
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or LEARNHUB_PG_DSN")
	}
	if flag.NArg() == 0 {
		log.Fatal(usage)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	store, err := pg.Open(*dsn)
	if err != nil {
		log.WithError(err).Fatal("open db")
	}
	defer store.Close()

	mgr := migrate.NewDefault(store.DB(), migrate.WithLogger(log))

	cmd := flag.Arg(0)
	switch cmd {
	case "up":
		var applied []string
		applied, err = mgr.Up(ctx)
		report(log, "applied", applied)
	case "seed":
		var applied []string
		applied, err = mgr.Seed(ctx)
		report(log, "seeded", applied)
	case "down":
		var name string
		name, err = mgr.Down(ctx)
		if err == nil {
			log.WithField("migration", name).Info("rolled back")
		}
	case "status":
		var st migrate.Status
		st, err = mgr.Status(ctx)
		if err == nil {
			for _, name := range st.Applied {
				fmt.Println("applied ", name)
			}
			for _, name := range st.Pending {
				fmt.Println("pending ", name)
			}
		}
	case "admin":
		err = createAdmin(ctx, store, flag.Args()[1:])
	default:
		log.Fatalf("unknown command %q; %s", cmd, usage)
	}
	if err != nil {
		log.WithError(err).Fatalf("migrate %s", cmd)
	}
}

func report(log logrus.FieldLogger, verb string, names []string) {
	if len(names) == 0 {
		log.Info("nothing to do")
		return
	}
	for _, name := range names {
		log.WithField("file", name).Info(verb)
	}
}

// createAdmin provisions an administrator through the same path as the API.
func createAdmin(ctx context.Context, store *pg.Store, args []string) error {
	fs := flag.NewFlagSet("admin", flag.ContinueOnError)
	email := fs.String("email", "", "administrator email")
	password := fs.String("password", "", "administrator password")
	name := fs.String("name", "Administrator", "display name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" || *password == "" {
		return fmt.Errorf("%w: -email and -password are required", auth.ErrInvalidInput)
	}

	rbac, err := auth.NewRBACService(store, store)
	if err != nil {
		return err
	}
	user, err := rbac.CreateUser(ctx, auth.NewUser{
		Email:    *email,
		Password: *password,
		Name:     *name,
		Role:     auth.RoleAdmin,
	})
	if err != nil {
		return err
	}
	obs.Logger().WithFields(logrus.Fields{"user_id": user.ID, "email": user.Email}).Info("administrator created")
	return nil
}
