package beacon

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

var (
	tokenFilePatterns    = []string{"beacon_token_*.json", "beacon_user_token_*.json"}
	clientIDFilePatterns = []string{"beacon_client_id_*.json"}

	ErrNoClientID = errors.New("no beacon client id file found")
	ErrNoToken    = errors.New("no beacon token file found")
)

type loginToken struct {
	TokenID     string    `json:"token_id"`
	TokenSecret string    `json:"token_secret"`
	Created     createdAt `json:"created"`
	URL         string    `json:"url"`
}

type clientCredentials struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// createdAt accepts both numeric and string timestamps.
type createdAt string

func (c *createdAt) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*c = createdAt(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("created: %w", err)
	}
	*c = createdAt(n.String())
	return nil
}

func (c createdAt) less(other createdAt) bool {
	a, errA := strconv.ParseFloat(string(c), 64)
	b, errB := strconv.ParseFloat(string(other), 64)
	if errA == nil && errB == nil {
		return a < b
	}
	return c < other
}

// loadCredentials reads the client id and the most recently created login
// token. Explicit file names win over discovery in secretsDir.
func loadCredentials(secretsDir, tokenFile, clientIDFile string) (loginToken, clientCredentials, error) {
	clientFiles, err := candidateFiles(secretsDir, clientIDFile, clientIDFilePatterns)
	if err != nil {
		return loginToken{}, clientCredentials{}, err
	}
	if len(clientFiles) == 0 {
		return loginToken{}, clientCredentials{}, ErrNoClientID
	}
	var client clientCredentials
	if err := readJSON(clientFiles[0], &client); err != nil {
		return loginToken{}, clientCredentials{}, err
	}

	tokenFiles, err := candidateFiles(secretsDir, tokenFile, tokenFilePatterns)
	if err != nil {
		return loginToken{}, clientCredentials{}, err
	}
	var tokens []loginToken
	for _, name := range tokenFiles {
		var tok loginToken
		if err := readJSON(name, &tok); err != nil {
			continue
		}
		tokens = append(tokens, tok)
	}
	if len(tokens) == 0 {
		return loginToken{}, clientCredentials{}, ErrNoToken
	}
	sort.SliceStable(tokens, func(i, j int) bool { return tokens[j].Created.less(tokens[i].Created) })

	token := tokens[0]
	token.URL = strings.TrimRight(token.URL, "/")
	if token.URL == "" {
		return loginToken{}, clientCredentials{}, errors.New("beacon token has no url")
	}
	return token, client, nil
}

func candidateFiles(dir, explicit string, patterns []string) ([]string, error) {
	if explicit != "" {
		return []string{explicit}, nil
	}
	var files []string
	for _, pattern := range patterns {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, fmt.Errorf("glob %s: %w", pattern, err)
		}
		files = append(files, matches...)
	}
	sort.Strings(files)
	return files, nil
}

func readJSON(path string, dst any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
