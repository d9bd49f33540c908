// credgen hashes a client secret and prints the CLIENT_CREDENTIALS entry an
// operator pastes into the compliance-api environment, adapted from the
// reference repo's standalone hasher/genpass dev utilities.
package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/auth"
)

func main() {
	clientID := flag.String("client-id", "", "client_id to issue a credential for")
	secret := flag.String("secret", "", "plaintext client_secret to hash")
	flag.Parse()

	if *clientID == "" || *secret == "" {
		log.Fatal("usage: credgen -client-id=<id> -secret=<plaintext>")
	}

	hash, err := auth.HashPassword(*secret)
	if err != nil {
		log.Fatalf("hash failed: %v", err)
	}

	fmt.Printf("%s:%s\n", *clientID, hash)
}
