package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/bidhaus/auction-api/internal/auth"
	"github.com/bidhaus/auction-api/internal/bidding"
	"github.com/bidhaus/auction-api/internal/database"
	"github.com/bidhaus/auction-api/internal/escrow"
	"github.com/bidhaus/auction-api/internal/gateway"
	"github.com/bidhaus/auction-api/internal/lifecycle"
	"github.com/bidhaus/auction-api/internal/listing"
	"github.com/bidhaus/auction-api/internal/notify"
	"github.com/bidhaus/auction-api/internal/types"
	"github.com/bidhaus/auction-api/pkg/middleware"
)

const (
	numListings    = 4
	numBidders     = 6
	bidRounds      = 10
	auctionWindow  = 8 * time.Second
	serverAddress  = "http://localhost:8080"
	simulationDB   = "simulation.db"
	jwtSecret      = "simulation-secret-key"
	releaseOddsPct = 80
)

var itemTitles = []string{
	"Vintage film camera",
	"Mid-century armchair",
	"Signed first edition",
	"Mechanical wristwatch",
	"Art deco table lamp",
}

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
	mu         sync.Mutex
}

// addDuration records a new duration measurement for the route
func (rs *routeStats) addDuration(d time.Duration) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
}

func (rs *routeStats) addFailure() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.failures++
}

// calculate computes performance statistics from recorded durations
// Returns min, max, mean, median, 95th percentile, and 99th percentile durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))

	median = rs.durations[len(rs.durations)/2]

	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]

	return
}

// simulationClient handles HTTP communication with the auction API.
// A token is held per simulated user because every operation acts as a
// specific seller, bidder or administrator.
type simulationClient struct {
	baseURL string
	client  *http.Client
	tokens  map[string]string
	stats   map[string]*routeStats
}

func newSimulationClient() *simulationClient {
	return &simulationClient{
		baseURL: serverAddress,
		client:  &http.Client{Timeout: 10 * time.Second},
		tokens:  make(map[string]string),
		stats: map[string]*routeStats{
			"auth":    {name: "Authentication"},
			"listing": {name: "Create Listing"},
			"bid":     {name: "Place Bid"},
			"leader":  {name: "Get Leader"},
			"tick":    {name: "Finalization Tick"},
			"capture": {name: "Capture Payment"},
			"release": {name: "Release Escrow"},
			"refund":  {name: "Refund Payment"},
		},
	}
}

// envelope mirrors the API response wrapper
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
}

// do sends an authenticated request, records its duration against the
// given stats bucket, and unmarshals the data payload into out.
func (sc *simulationClient) do(statKey, method, path, userID string, payload, out interface{}) (int, error) {
	start := time.Now()
	defer func() {
		sc.stats[statKey].addDuration(time.Since(start))
	}()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return 0, err
		}
		body = bytes.NewBuffer(raw)
	}

	req, err := http.NewRequest(method, sc.baseURL+path, body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+sc.tokens[userID])
	}

	resp, err := sc.client.Do(req)
	if err != nil {
		sc.stats[statKey].addFailure()
		return 0, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		sc.stats[statKey].addFailure()
		return resp.StatusCode, fmt.Errorf("failed to read response body: %w", err)
	}
	log.Debug().Str("path", path).Str("response", string(respBody)).Msg("API response")

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		sc.stats[statKey].addFailure()
		return resp.StatusCode, fmt.Errorf("%s %s failed with status %d: %s", method, path, resp.StatusCode, string(respBody))
	}

	if out != nil {
		var env envelope
		if err := json.Unmarshal(respBody, &env); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
		}
		if err := json.Unmarshal(env.Data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode data payload: %w, body: %s", err, string(respBody))
		}
	}
	return resp.StatusCode, nil
}

// authenticate obtains and caches a JWT for one simulated user
func (sc *simulationClient) authenticate(userID, apiKey, apiSecret string) error {
	var token auth.TokenResponse
	_, err := sc.do("auth", "POST", "/api/v1/auth/token", "", auth.Credentials{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}, &token)
	if err != nil {
		return fmt.Errorf("failed to authenticate %s: %w", userID, err)
	}
	sc.tokens[userID] = token.Token
	return nil
}

// createListing opens a new auction as the given seller
func (sc *simulationClient) createListing(sellerID, title string, minBid int64, window time.Duration) (*types.Listing, error) {
	var created types.Listing
	_, err := sc.do("listing", "POST", "/api/v1/listings", sellerID, map[string]interface{}{
		"title":         title,
		"min_bid_price": minBid,
		"start_time":    time.Now(),
		"end_time":      time.Now().Add(window),
	}, &created)
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// placeBid submits a bid; a rejected bid (outbid, too low, self-bid,
// closed window) is an expected outcome, not a transport failure.
func (sc *simulationClient) placeBid(bidderID, listingID string, amount int64) (*types.BidResponse, int, error) {
	var admitted types.BidResponse
	status, err := sc.do("bid", "POST", fmt.Sprintf("/api/v1/listings/%s/bids", listingID), bidderID,
		map[string]int64{"amount": amount}, &admitted)
	if err != nil {
		return nil, status, err
	}
	return &admitted, status, nil
}

// getLeader fetches the current leading bid, nil when none exists
func (sc *simulationClient) getLeader(userID, listingID string) (*types.Bid, error) {
	var result struct {
		Leader *types.Bid `json:"leader"`
	}
	_, err := sc.do("leader", "GET", fmt.Sprintf("/api/v1/listings/%s/leader", listingID), userID, nil, &result)
	if err != nil {
		return nil, err
	}
	return result.Leader, nil
}

// runTick triggers a finalization pass as the administrator
func (sc *simulationClient) runTick(adminID string) ([]types.FinalizationEvent, error) {
	var result struct {
		FinalizedCount int                       `json:"finalized_count"`
		Finalized      []types.FinalizationEvent `json:"finalized"`
	}
	_, err := sc.do("tick", "POST", "/api/v1/admin/lifecycle/tick", adminID, nil, &result)
	if err != nil {
		return nil, err
	}
	return result.Finalized, nil
}

// capturePayment settles the winning bid as the winning buyer
func (sc *simulationClient) capturePayment(buyerID, listingID, bidID string) (*escrow.SettlementResponse, error) {
	var settlement escrow.SettlementResponse
	_, err := sc.do("capture", "POST", "/api/v1/payments/capture", buyerID, map[string]string{
		"listing_id":            listingID,
		"bid_id":                bidID,
		"payment_instrument_id": "INSTR_" + buyerID,
	}, &settlement)
	if err != nil {
		return nil, err
	}
	return &settlement, nil
}

// releaseEscrow releases held funds to the seller as the administrator
func (sc *simulationClient) releaseEscrow(adminID, escrowID string) (*escrow.EscrowRecord, error) {
	var record escrow.EscrowRecord
	_, err := sc.do("release", "POST", fmt.Sprintf("/api/v1/admin/escrow/%s/release", escrowID), adminID, nil, &record)
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// refundPayment refunds the held payment back to the buyer
func (sc *simulationClient) refundPayment(buyerID, escrowID, reason string) (*escrow.EscrowRecord, error) {
	var record escrow.EscrowRecord
	_, err := sc.do("refund", "POST", fmt.Sprintf("/api/v1/payments/escrow/%s/refund", escrowID), buyerID,
		map[string]string{"reason": reason}, &record)
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// printPerformanceStats outputs formatted performance statistics for all API endpoints
func (sc *simulationClient) printPerformanceStats() {
	fmt.Println("\n📊 API Performance Statistics")
	fmt.Println(strings.Repeat("-", 110))
	fmt.Printf("%-20s %10s %10s %10s %10s %10s %10s %10s %10s\n",
		"Endpoint", "Calls", "Rejected", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 110))

	for _, stats := range sc.stats {
		min, max, mean, median, p95, p99 := stats.calculate()
		fmt.Printf("%-20s %10d %10d %10s %10s %10s %10s %10s %10s\n",
			stats.name,
			stats.totalCalls,
			stats.failures,
			min.Round(time.Millisecond),
			max.Round(time.Millisecond),
			mean.Round(time.Millisecond),
			median.Round(time.Millisecond),
			p95.Round(time.Millisecond),
			p99.Round(time.Millisecond))
	}
	fmt.Println(strings.Repeat("-", 110))
}

// main runs the auction marketplace simulation: sellers open short-lived
// listings, concurrent bidders race for the lead, the scheduler closes the
// auctions, and each winner settles through the escrow flow.
func main() {
	// Start the server in a goroutine
	go func() {
		if err := startServer(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for server to start
	time.Sleep(2 * time.Second)

	simClient := newSimulationClient()

	// Authenticate every simulated participant
	if err := simClient.authenticate("seller-1", "seller-1-key", "seller-1-secret"); err != nil {
		log.Fatal().Err(err).Msg("Failed to authenticate seller")
	}
	if err := simClient.authenticate("admin-1", "admin-1-key", "admin-1-secret"); err != nil {
		log.Fatal().Err(err).Msg("Failed to authenticate administrator")
	}
	bidderIDs := make([]string, numBidders)
	for i := range bidderIDs {
		bidderIDs[i] = fmt.Sprintf("bidder-%d", i)
		if err := simClient.authenticate(bidderIDs[i], bidderIDs[i]+"-key", bidderIDs[i]+"-secret"); err != nil {
			log.Fatal().Err(err).Msg("Failed to authenticate bidder")
		}
	}

	// Open the listings with short bidding windows
	var listings []*types.Listing
	for i := 0; i < numListings; i++ {
		minBid := int64(rand.Intn(900) + 100)
		created, err := simClient.createListing("seller-1", itemTitles[i%len(itemTitles)], minBid, auctionWindow)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create listing")
		}
		listings = append(listings, created)
		log.Info().
			Str("listing_id", created.ListingID).
			Str("title", created.Title).
			Int64("min_bid_price", created.MinBidPrice).
			Time("end_time", created.EndTime).
			Msg("Listing opened")
	}

	stats := struct {
		AdmittedBids  int
		RejectedBids  int
		Finalized     int
		WithWinner    int
		Captured      int
		Released      int
		Refunded      int
		TotalValue    int64
		StartTime     time.Time
		BidsByListing map[string]int
		mu            sync.Mutex
	}{
		StartTime:     time.Now(),
		BidsByListing: make(map[string]int),
	}

	// Bidders race concurrently across all open listings
	var wg sync.WaitGroup
	for _, bidderID := range bidderIDs {
		wg.Add(1)
		go func(bidderID string) {
			defer wg.Done()
			for round := 0; round < bidRounds; round++ {
				target := listings[rand.Intn(len(listings))]

				// Bid a random increment above the observed leader
				baseline := target.MinBidPrice
				if leader, err := simClient.getLeader(bidderID, target.ListingID); err == nil && leader != nil {
					baseline = leader.Amount + 1
				}
				amount := baseline + int64(rand.Intn(200))

				admitted, status, err := simClient.placeBid(bidderID, target.ListingID, amount)
				stats.mu.Lock()
				if err != nil {
					stats.RejectedBids++
					stats.mu.Unlock()
					log.Debug().
						Str("bidder_id", bidderID).
						Str("listing_id", target.ListingID).
						Int("status", status).
						Msg("Bid rejected")
				} else {
					stats.AdmittedBids++
					stats.BidsByListing[target.ListingID]++
					stats.mu.Unlock()
					log.Info().
						Str("bidder_id", bidderID).
						Str("listing_id", target.ListingID).
						Str("bid_id", admitted.BidID).
						Int64("amount", admitted.Amount).
						Msg("Bid admitted")
				}

				time.Sleep(time.Duration(rand.Intn(400)) * time.Millisecond)
			}
		}(bidderID)
	}
	wg.Wait()

	// Let every bidding window close, then finalize
	time.Sleep(auctionWindow + time.Second)

	events, err := simClient.runTick("admin-1")
	if err != nil {
		log.Fatal().Err(err).Msg("Finalization tick failed")
	}
	stats.Finalized = len(events)
	log.Info().Int("finalized", len(events)).Msg("Auctions finalized")

	// Settle every auction that produced a winner
	for _, event := range events {
		if event.WinningBid == nil {
			log.Info().Str("listing_id", event.ListingID).Msg("Auction closed without bids")
			continue
		}
		stats.WithWinner++

		winner := event.WinningBid.BidderID
		settlement, err := simClient.capturePayment(winner, event.ListingID, event.WinningBid.BidID)
		if err != nil {
			log.Error().Err(err).
				Str("listing_id", event.ListingID).
				Str("bidder_id", winner).
				Msg("Failed to capture winning payment")
			continue
		}
		stats.Captured++
		stats.TotalValue += settlement.Payment.Amount
		log.Info().
			Str("listing_id", event.ListingID).
			Str("escrow_id", settlement.EscrowRecord.EscrowID).
			Int64("amount", settlement.Payment.Amount).
			Msg("Payment captured into escrow")

		// Most settlements complete normally, a few buyers ask for a refund
		if rand.Intn(100) < releaseOddsPct {
			record, err := simClient.releaseEscrow("admin-1", settlement.EscrowRecord.EscrowID)
			if err != nil {
				log.Error().Err(err).Str("escrow_id", settlement.EscrowRecord.EscrowID).Msg("Failed to release escrow")
				continue
			}
			stats.Released++
			log.Info().
				Str("escrow_id", record.EscrowID).
				Str("seller_id", record.SellerID).
				Msg("Escrow released to seller")
		} else {
			record, err := simClient.refundPayment(winner, settlement.EscrowRecord.EscrowID, "buyer changed their mind")
			if err != nil {
				log.Error().Err(err).Str("escrow_id", settlement.EscrowRecord.EscrowID).Msg("Failed to refund payment")
				continue
			}
			stats.Refunded++
			log.Info().
				Str("escrow_id", record.EscrowID).
				Str("buyer_id", record.BuyerID).
				Msg("Payment refunded to buyer")
		}
	}

	// Print summary
	duration := time.Since(stats.StartTime)
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("🔨 AUCTION SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Printf(`
📊 Auction Statistics
--------------------
Listings Opened:  %d
Admitted Bids:    %d
Rejected Bids:    %d
Finalized:        %d
With Winner:      %d
Captured:         %d
Released:         %d
Refunded:         %d
Total Value:      %d
Duration:         %v

📈 Bids per Listing
------------------
`, len(listings), stats.AdmittedBids, stats.RejectedBids, stats.Finalized,
		stats.WithWinner, stats.Captured, stats.Released, stats.Refunded,
		stats.TotalValue, duration.Round(time.Millisecond))

	maxBidCount := 0
	for _, count := range stats.BidsByListing {
		if count > maxBidCount {
			maxBidCount = count
		}
	}
	for _, l := range listings {
		count := stats.BidsByListing[l.ListingID]
		barLength := 0
		if maxBidCount > 0 {
			barLength = int(float64(count) / float64(maxBidCount) * 20)
		}
		bar := strings.Repeat("█", barLength)
		fmt.Printf("%-24s: %s (%d)\n", l.Title, bar, count)
	}

	fmt.Println("\n" + strings.Repeat("=", 80))

	settledRate := 0.0
	if stats.WithWinner > 0 {
		settledRate = float64(stats.Captured) / float64(stats.WithWinner) * 100
	}
	log.Info().
		Float64("settlement_rate", settledRate).
		Int("admitted_bids", stats.AdmittedBids).
		Int("finalized", stats.Finalized).
		Int64("total_value", stats.TotalValue).
		Dur("duration", duration).
		Msg("Simulation completed")

	simClient.printPerformanceStats()
}

// startServer initializes and starts the auction API server
// Sets up all required services, handlers and routes
func startServer() error {
	// Fresh database for every run
	_ = os.Remove(simulationDB)

	db, err := database.NewDatabase(simulationDB)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	notifier := notify.LogNotifier{}

	authService := auth.NewService(jwtSecret)
	listingService := listing.NewService(db)
	biddingService := bidding.NewService(db, notifier, nil)
	escrowService := escrow.NewService(db, gateway.NewSimulator(), notifier, 5*time.Second)
	// The long interval keeps the ticker idle; the simulation drives
	// finalization through the admin endpoint.
	scheduler := lifecycle.NewScheduler(db, notifier, nil, time.Hour, time.Hour)

	// Register the simulated participants
	authService.RegisterUser("seller-1-key", "seller-1-secret", "seller-1", auth.RoleUser)
	authService.RegisterUser("admin-1-key", "admin-1-secret", "admin-1", auth.RoleAdmin)
	for i := 0; i < numBidders; i++ {
		userID := fmt.Sprintf("bidder-%d", i)
		authService.RegisterUser(userID+"-key", userID+"-secret", userID, auth.RoleUser)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.Default()

	authHandlers := auth.NewGinHandlers(authService)
	listingHandlers := listing.NewGinHandlers(listingService)
	biddingHandlers := bidding.NewGinHandlers(biddingService)
	escrowHandlers := escrow.NewGinHandlers(escrowService)
	lifecycleHandlers := lifecycle.NewGinHandlers(scheduler)

	v1 := router.Group("/api/v1")
	{
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		listings := v1.Group("/listings")
		listings.Use(middleware.JWTAuth(jwtSecret))
		{
			listings.POST("", listingHandlers.CreateListingHandler())
			listings.GET("/:listing_id", listingHandlers.GetListingHandler())
			listings.POST("/:listing_id/bids", biddingHandlers.PlaceBidHandler())
			listings.GET("/:listing_id/leader", biddingHandlers.GetLeaderHandler())
		}

		payments := v1.Group("/payments")
		payments.Use(middleware.JWTAuth(jwtSecret))
		{
			payments.POST("/capture", escrowHandlers.CaptureHandler())
			payments.POST("/escrow/:escrow_id/refund", escrowHandlers.RefundHandler())
			payments.GET("/escrow/:escrow_id", escrowHandlers.GetEscrowHandler())
		}

		admin := v1.Group("/admin")
		admin.Use(middleware.AdminAuth(jwtSecret))
		{
			admin.POST("/escrow/:escrow_id/release", escrowHandlers.ReleaseHandler())
			admin.POST("/lifecycle/tick", lifecycleHandlers.TickHandler())
		}
	}

	return router.Run(":8080")
}
