// Command keygen prints a fresh server signing seed and the key id clients
// will see in response envelopes.
package main

import (
	"fmt"
	"log"

	"github.com/dmitrijs2005/deglet/internal/server/auth"
)

func main() {
	seed, kid, err := auth.GenerateSeed()
	if err != nil {
		log.Fatalf("%v", err)
	}

	fmt.Printf("api_signing_key: %s\n", seed)
	fmt.Printf("kid:             %s\n", kid)
}
