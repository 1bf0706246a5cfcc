/*
 * Copyright 2017-2022 Provide Technologies Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package common

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	logger "github.com/kthomas/go-logger"
)

const defaultMinimumDeposit = uint64(10000000)
const defaultProtocolFee = uint64(10000000)
const defaultMinDelaySeconds = uint32(300)
const defaultMaxDelaySeconds = uint32(86400)
const defaultNetworkFee = uint64(5000)

const defaultRelayerAPIURL = "http://localhost:3001"
const defaultRelayerTimeout = time.Second * 30
const defaultRelayerMaxAttempts = 3

var (
	// Log is the configured logger
	Log *logger.Logger

	// Network is the name of the ledger network credentials are bound to, i.e. devnet
	Network string

	// MinimumDeposit is the smallest net amount, in base units, accepted by a deposit
	MinimumDeposit uint64

	// ProtocolFee is the flat mixing fee, in base units, debited on top of each deposit
	ProtocolFee uint64

	// MinDelaySeconds is the shortest withdrawal delay a depositor may choose
	MinDelaySeconds uint32

	// MaxDelaySeconds is the longest withdrawal delay a depositor may choose
	MaxDelaySeconds uint32

	// NetworkFee is the per-transaction fee, in base units, charged to the signer of a ledger transaction
	NetworkFee uint64

	// RelayerAPIURL is the base url of the relayer used for fee-sponsored withdrawals
	RelayerAPIURL string

	// RelayerTimeout bounds a single relayer round-trip
	RelayerTimeout time.Duration

	// RelayerMaxAttempts bounds retries of transport-level relayer failures
	RelayerMaxAttempts int

	// ListenPort is the port the relayer API binds
	ListenPort string

	// LedgerProvider names the ledger backend, i.e. memory or db
	LedgerProvider string

	// CredentialStoreProvider names the credential storage medium, i.e. file, redis or memory
	CredentialStoreProvider string

	// CredentialStorePath is the directory used by the file credential store
	CredentialStorePath string

	// CredentialStorePassphrase enables at-rest encryption of the file credential store when set
	CredentialStorePassphrase string

	// RedisHosts is the comma-delimited list of redis hosts for the redis credential store
	RedisHosts []string

	// RelayerPrivateKey is the base58-encoded ed25519 key the relayer pays fees with
	RelayerPrivateKey string

	// DispatchNATSNotifications is true when ledger transitions should be broadcast over NATS
	DispatchNATSNotifications bool

	// ConsumeNATSStreamingSubscriptions is true when the relayer should consume queued withdrawals
	ConsumeNATSStreamingSubscriptions bool
)

func init() {
	godotenv.Load()

	requireLogger()
	requireProtocolParams()
	requireRelayer()
	requireStorage()

	DispatchNATSNotifications = strings.ToLower(os.Getenv("DISPATCH_NATS_NOTIFICATIONS")) == "true"
	ConsumeNATSStreamingSubscriptions = strings.ToLower(os.Getenv("CONSUME_NATS_STREAMING_SUBSCRIPTIONS")) == "true"
}

func requireLogger() {
	lvl := os.Getenv("LOG_LEVEL")
	if lvl == "" {
		lvl = "INFO"
	}

	var endpoint *string
	if os.Getenv("SYSLOG_ENDPOINT") != "" {
		endpt := os.Getenv("SYSLOG_ENDPOINT")
		endpoint = &endpt
	}

	Log = logger.NewLogger("mixer", lvl, endpoint)
}

func requireProtocolParams() {
	Network = os.Getenv("MIXER_NETWORK")
	if Network == "" {
		Network = "devnet"
	}

	MinimumDeposit = uint64FromEnv("MIXER_MINIMUM_DEPOSIT", defaultMinimumDeposit)
	ProtocolFee = uint64FromEnv("MIXER_PROTOCOL_FEE", defaultProtocolFee)
	NetworkFee = uint64FromEnv("MIXER_NETWORK_FEE", defaultNetworkFee)
	MinDelaySeconds = uint32FromEnv("MIXER_MIN_DELAY_SECONDS", defaultMinDelaySeconds)
	MaxDelaySeconds = uint32FromEnv("MIXER_MAX_DELAY_SECONDS", defaultMaxDelaySeconds)

	if MinDelaySeconds > MaxDelaySeconds {
		Log.Panicf("invalid delay bounds; min delay %d exceeds max delay %d", MinDelaySeconds, MaxDelaySeconds)
	}
}

func requireRelayer() {
	RelayerAPIURL = os.Getenv("RELAYER_API_URL")
	if RelayerAPIURL == "" {
		RelayerAPIURL = defaultRelayerAPIURL
	}

	RelayerTimeout = defaultRelayerTimeout
	if os.Getenv("RELAYER_TIMEOUT_SECONDS") != "" {
		RelayerTimeout = time.Second * time.Duration(uint64FromEnv("RELAYER_TIMEOUT_SECONDS", 30))
	}

	RelayerMaxAttempts = int(uint64FromEnv("RELAYER_MAX_ATTEMPTS", defaultRelayerMaxAttempts))
	if RelayerMaxAttempts < 1 {
		RelayerMaxAttempts = 1
	}

	ListenPort = os.Getenv("PORT")
	if ListenPort == "" {
		ListenPort = "3001"
	}

	RelayerPrivateKey = os.Getenv("RELAYER_PRIVATE_KEY")
}

func requireStorage() {
	LedgerProvider = os.Getenv("LEDGER_PROVIDER")
	if LedgerProvider == "" {
		LedgerProvider = "memory"
	}

	CredentialStoreProvider = os.Getenv("CREDENTIAL_STORE_PROVIDER")
	if CredentialStoreProvider == "" {
		CredentialStoreProvider = "file"
	}

	CredentialStorePath = os.Getenv("CREDENTIAL_STORE_PATH")
	if CredentialStorePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		CredentialStorePath = home + string(os.PathSeparator) + ".mixer"
	}

	CredentialStorePassphrase = os.Getenv("CREDENTIAL_STORE_PASSPHRASE")

	if os.Getenv("REDIS_HOSTS") != "" {
		for _, host := range strings.Split(os.Getenv("REDIS_HOSTS"), ",") {
			if host = strings.TrimSpace(host); host != "" {
				RedisHosts = append(RedisHosts, host)
			}
		}
	}
}

func uint64FromEnv(key string, fallback uint64) uint64 {
	return uintFromEnv(key, fallback, 64)
}

// uint32FromEnv rejects values that do not fit rather than truncating them
func uint32FromEnv(key string, fallback uint32) uint32 {
	return uint32(uintFromEnv(key, uint64(fallback), 32))
}

func uintFromEnv(key string, fallback uint64, bitSize int) uint64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}

	val, err := strconv.ParseUint(raw, 10, bitSize)
	if err != nil {
		Log.Warningf("failed to parse %s; falling back to %d; %s", key, fallback, err.Error())
		return fallback
	}

	return val
}
