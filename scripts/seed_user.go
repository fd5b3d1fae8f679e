package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Quick utility to generate a SEED_USERS_FILE entry for the in-memory store
// Usage: go run scripts/seed_user.go <email> <password> <agency,agency,...> [callSign]
func main() {
	if len(os.Args) < 4 {
		fmt.Println("Usage: go run scripts/seed_user.go <email> <password> <agency,agency,...> [callSign]")
		fmt.Println("Example: go run scripts/seed_user.go dispatch@sasp.gov 0i2rinbcp12yc31h sasp,samc 1-ADAM-12")
		os.Exit(1)
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(os.Args[2]), bcrypt.DefaultCost)
	if err != nil {
		fmt.Printf("Error generating hash: %v\n", err)
		os.Exit(1)
	}

	var callSign string
	if len(os.Args) > 4 {
		callSign = os.Args[4]
	}
	entry := map[string]interface{}{
		"_id":          uuid.NewString(),
		"email":        os.Args[1],
		"callSign":     callSign,
		"passwordHash": string(hashedPassword),
		"agencies":     strings.Split(os.Args[3], ","),
	}
	b, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		fmt.Printf("Error encoding entry: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(b))
	fmt.Println("\nAppend it to the JSON array in SEED_USERS_FILE.")
}
