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

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/provideplatform/mixer/common"
	"github.com/provideplatform/mixer/deposit"
	"github.com/provideplatform/mixer/ledger/providers"
	"github.com/provideplatform/mixer/ledger/providers/memory"
	"github.com/provideplatform/mixer/relayer"
	"github.com/provideplatform/mixer/wallet"
)

const runloopSleepInterval = 250 * time.Millisecond
const runloopTickInterval = 5000 * time.Millisecond

// devnetRelayerFunding seeds an ephemeral relayer on the in-memory ledger
const devnetRelayerFunding = uint64(1000000000)

var (
	cancelF     context.CancelFunc
	closing     uint32
	shutdownCtx context.Context
	sigs        chan os.Signal

	srv *http.Server
	wg  sync.WaitGroup
)

func main() {
	common.Log.Debugf("starting mixer relayer API on port %s", common.ListenPort)
	installSignalHandlers()

	r, err := buildRelayer()
	if err != nil {
		common.Log.Panicf("failed to initialize relayer; %s", err.Error())
	}

	if common.ConsumeNATSStreamingSubscriptions {
		common.Log.Debug("consuming queued withdrawals")
		r.RequireNatsSubscriptions(&wg)
	}

	runAPI(r)

	timer := time.NewTicker(runloopTickInterval)
	defer timer.Stop()

	for !shuttingDown() {
		select {
		case <-timer.C:
			// tick... no-op
		case sig := <-sigs:
			common.Log.Debugf("received signal: %s", sig)
			srv.Shutdown(shutdownCtx)
			shutdown()
		case <-shutdownCtx.Done():
			close(sigs)
		default:
			time.Sleep(runloopSleepInterval)
		}
	}

	common.Log.Debug("exiting mixer relayer API")
	cancelF()
}

// buildRelayer resolves the configured ledger and fee-paying key
func buildRelayer() (*relayer.Relayer, error) {
	l := providers.InitLedgerProvider(common.LedgerProvider, deposit.DefaultParams())
	if l == nil {
		return nil, fmt.Errorf("unsupported ledger provider: %s", common.LedgerProvider)
	}

	var signer *wallet.Keypair
	var err error
	if common.RelayerPrivateKey != "" {
		signer, err = wallet.KeypairFromBase58(common.RelayerPrivateKey)
		if err != nil {
			return nil, fmt.Errorf("failed to parse relayer key; %s", err.Error())
		}
	} else {
		signer, err = wallet.NewKeypair()
		if err != nil {
			return nil, err
		}
		common.Log.Warningf("RELAYER_PRIVATE_KEY not set; using ephemeral relayer %s", signer.Address().String())

		if ml, ok := l.(*memory.Ledger); ok {
			err = ml.Airdrop(signer.Address(), devnetRelayerFunding)
			if err != nil {
				return nil, err
			}
		}
	}

	return relayer.NewRelayer(l, signer), nil
}

func installSignalHandlers() {
	common.Log.Debug("installing signal handlers for mixer relayer API")
	sigs = make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	shutdownCtx, cancelF = context.WithCancel(context.Background())
}

func shutdown() {
	if atomic.AddUint32(&closing, 1) == 1 {
		common.Log.Debug("shutting down mixer relayer API")
		cancelF()
	}
}

func shuttingDown() bool {
	return (atomic.LoadUint32(&closing) > 0)
}

func newEngine(r *relayer.Relayer) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	r.InstallAPI(engine)
	return engine
}

func runAPI(r *relayer.Relayer) {
	srv = &http.Server{
		Addr:    fmt.Sprintf("0.0.0.0:%s", common.ListenPort),
		Handler: newEngine(r),
	}

	go func() {
		err := srv.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			common.Log.Panicf("failed to listen on port %s; %s", common.ListenPort, err.Error())
		}
	}()

	common.Log.Debugf("listening on %s", srv.Addr)
}
