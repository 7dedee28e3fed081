// Command tokengen mints bearer tokens for local testing and for wiring the
// payment collaborator, signed with the same JWT_SECRET the server reads.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	flag "github.com/spf13/pflag"

	"github.com/iliyamo/ticket-gate/internal/utils"
)

func main() {
	_ = godotenv.Load()

	sub := flag.StringP("sub", "s", "", "token subject (user, organizer or service id)")
	role := flag.StringP("role", "r", "SERVICE", "CUSTOMER, ORGANIZER or SERVICE")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	tok, err := utils.NewAccessToken(os.Getenv("JWT_SECRET"), *sub, *role, *ttl)
	if err != nil {
		log.Fatal().Err(err).Msg("cannot mint token (is JWT_SECRET set and --sub given?)")
	}
	fmt.Println(tok.Token)
}
