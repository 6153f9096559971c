package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"connectrpc.com/connect"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	rpc "github.com/kkkkikiki/couponbook/internal/couponrpc"
)

// PerfResult gathers aggregated metrics for the test run.
// LatencySum & P95Latency are in nanoseconds.
type PerfResult struct {
	TotalRequests int64
	SuccessCount  int64
	RejectedCount int64 // expected refusals: locked, exhausted, already redeemed
	ErrorCount    int64
	LatencySum    int64
	P95Latency    int64
}

const (
	fixedWorkers   = 50
	fixedRPSTarget = 700
	fixedDuration  = 30 * time.Second
	defaultTimeout = 30 * time.Second
	fixedUsers     = 500
	// each coupon is fought over by this many redeemers
	contenders = 4
)

type target struct {
	code   string
	userID string
}

func main() {
	baseURL := os.Getenv("COUPON_BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	rps := fixedRPSTarget
	duration := fixedDuration
	workers := fixedWorkers

	// ─── HTTP Client & Transport ─────────────────────────────────
	transport := &http.Transport{
		MaxIdleConns:        workers * 4,
		MaxIdleConnsPerHost: workers * 4,
		IdleConnTimeout:     90 * time.Second,
	}
	httpClient := &http.Client{
		Transport: transport,
		Timeout:   defaultTimeout,
	}
	client := rpc.NewCouponServiceClient(httpClient, baseURL)

	// ─── Fixture: book, codes, pool, bulk assignment ────────────
	targets, bookID, err := prepare(client, fixedUsers)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to prepare fixture: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("==========================================")
	fmt.Println("Coupon redeem contention test")
	fmt.Println("==========================================")
	fmt.Printf("Book ID      : %s\n", bookID)
	fmt.Printf("Coupons      : %d\n", len(targets))
	fmt.Printf("RPS          : %d\n", rps)
	fmt.Printf("Duration     : %v\n", duration)
	fmt.Println("==========================================")

	// ─── Rate limiter & context ─────────────────────────────────
	limiter := rate.NewLimiter(rate.Limit(rps), max(rps/workers, 1))

	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	var result PerfResult
	latencyChan := make(chan time.Duration, 4096)
	var tracker sync.WaitGroup
	tracker.Add(1)
	go func() {
		defer tracker.Done()
		trackP95(latencyChan, &result)
	}()

	// every coupon appears contenders times so concurrent redeems collide
	queue := make(chan target, len(targets)*contenders)
	for range contenders {
		for _, i := range rand.Perm(len(targets)) {
			queue <- targets[i]
		}
	}
	close(queue)

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for range workers {
		g.Go(func() error {
			for t := range queue {
				if err := limiter.Wait(gctx); err != nil {
					return nil
				}
				doRequest(client, t, &result, latencyChan)
			}
			return nil
		})
	}
	_ = g.Wait()
	close(latencyChan)
	tracker.Wait()
	totalDur := time.Since(start)

	// ─── Report ─────────────────────────────────────────────────
	fmt.Println("==========================================")
	fmt.Println("Results")
	fmt.Println("==========================================")
	fmt.Printf("Elapsed            : %.2fs\n", totalDur.Seconds())
	fmt.Printf("Total requests     : %d\n", result.TotalRequests)
	fmt.Printf("Redeemed           : %d\n", result.SuccessCount)
	fmt.Printf("Rejected           : %d\n", result.RejectedCount)
	fmt.Printf("Errors             : %d\n", result.ErrorCount)

	var avgLatency time.Duration
	if result.SuccessCount > 0 {
		avgLatency = time.Duration(result.LatencySum / result.SuccessCount)
	}
	fmt.Printf("Actual RPS         : %.2f\n", float64(result.TotalRequests)/totalDur.Seconds())
	fmt.Printf("Avg latency        : %v\n", avgLatency)
	fmt.Printf("P95 latency        : %v\n", time.Duration(atomic.LoadInt64(&result.P95Latency)))
	fmt.Println("==========================================")

	// ─── Data Consistency Check ─────────────────────────────────
	fmt.Println("Consistency check")
	if err := verifyDataConsistency(client, targets, result.SuccessCount); err != nil {
		fmt.Printf("FAILED: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("OK: no coupon was redeemed more than once")
	fmt.Println("==========================================")
}

// prepare creates a single-use book, one code per user, and hands them out
// through a pool.
func prepare(client *rpc.CouponServiceClient, users int) ([]target, string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	book, err := client.CreateBook(ctx, connect.NewRequest(&rpc.CreateBookRequest{
		Name:        fmt.Sprintf("perf-%d", time.Now().Unix()),
		OwnerID:     "perf-client",
		CodePattern: "PERF-{}",
	}))
	if err != nil {
		return nil, "", fmt.Errorf("create book failed: %w", err)
	}
	bookID := book.Msg.Book.ID

	if _, err := client.GenerateCodes(ctx, connect.NewRequest(&rpc.GenerateCodesRequest{
		BookID: bookID, Count: users, Length: 10,
	})); err != nil {
		return nil, "", fmt.Errorf("generate codes failed: %w", err)
	}

	userIDs := make([]string, users)
	for i := range userIDs {
		userIDs[i] = fmt.Sprintf("perf-user-%05d", i)
	}
	pool, err := client.CreatePool(ctx, connect.NewRequest(&rpc.CreatePoolRequest{
		Name: "perf", CreatedBy: "perf-client", UserIDs: userIDs,
	}))
	if err != nil {
		return nil, "", fmt.Errorf("create pool failed: %w", err)
	}

	bulk, err := client.BulkAssign(ctx, connect.NewRequest(&rpc.BulkAssignRequest{
		BookID: bookID, PoolID: pool.Msg.Pool.ID, Mode: "equal", CouponsPerUser: 1,
	}))
	if err != nil {
		return nil, "", fmt.Errorf("bulk assign failed: %w", err)
	}

	targets := make([]target, 0, bulk.Msg.TotalAssigned)
	for user, codes := range bulk.Msg.Assignments {
		for _, code := range codes {
			targets = append(targets, target{code: code, userID: user})
		}
	}
	return targets, bookID, nil
}

// doRequest performs a single RedeemCoupon RPC and collects metrics.
func doRequest(client *rpc.CouponServiceClient, t target, result *PerfResult, latencyChan chan<- time.Duration) {
	// Use independent context to avoid cancellation when test ends
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	start := time.Now()
	atomic.AddInt64(&result.TotalRequests, 1)

	_, err := client.RedeemCoupon(ctx, connect.NewRequest(&rpc.RedeemCouponRequest{
		Code:   t.code,
		UserID: t.userID,
	}))
	latency := time.Since(start)

	switch connect.CodeOf(err) {
	case connect.CodeAborted, connect.CodeResourceExhausted, connect.CodeFailedPrecondition:
		atomic.AddInt64(&result.RejectedCount, 1)
		return
	}
	if err != nil {
		atomic.AddInt64(&result.ErrorCount, 1)
		return
	}
	atomic.AddInt64(&result.SuccessCount, 1)
	atomic.AddInt64(&result.LatencySum, latency.Nanoseconds())
	select {
	case latencyChan <- latency:
	default:
	}
}

// trackP95 maintains a best-effort rolling P95 latency estimation.
func trackP95(latencies <-chan time.Duration, result *PerfResult) {
	const size = 1000
	buf := make([]int64, 0, size)

	for lat := range latencies {
		if len(buf) < size {
			buf = append(buf, lat.Nanoseconds())
		} else {
			buf[rand.IntN(size)] = lat.Nanoseconds()
		}

		if len(buf) >= 100 && len(buf)%100 == 0 {
			sorted := slices.Clone(buf)
			slices.Sort(sorted)
			idx := min(int(float64(len(sorted))*0.95), len(sorted)-1)
			atomic.StoreInt64(&result.P95Latency, sorted[idx])
		}
	}
}

// verifyDataConsistency checks that every coupon was redeemed at most once and
// that the server agrees with the client's success count.
func verifyDataConsistency(client *rpc.CouponServiceClient, targets []target, expected int64) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	var redeemed int64
	for _, t := range targets {
		resp, err := client.GetCoupon(ctx, connect.NewRequest(&rpc.GetCouponRequest{Code: t.code}))
		if err != nil {
			return fmt.Errorf("failed to get coupon %s: %w", t.code, err)
		}
		c := resp.Msg.Coupon
		if c.RedemptionCount > c.MaxRedemptions {
			return fmt.Errorf("coupon %s over-redeemed: %d > %d", c.Code, c.RedemptionCount, c.MaxRedemptions)
		}
		redeemed += int64(c.RedemptionCount)
	}

	fmt.Printf("Redeemed (server)  : %d\n", redeemed)
	fmt.Printf("Redeemed (client)  : %d\n", expected)
	if redeemed != expected {
		return fmt.Errorf("mismatch: server=%d, client=%d", redeemed, expected)
	}
	return nil
}
