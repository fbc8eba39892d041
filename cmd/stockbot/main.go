// Command stockbot is a read-only Robinhood client with a covered-call
// advisor. It authenticates with a durable device identity, keeps the
// session on disk between runs, and paces every API call.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"stockbot/internal/advisor"
	"stockbot/internal/analysis"
	"stockbot/internal/config"
	"stockbot/internal/news"
	"stockbot/internal/ratelimit"
	"stockbot/internal/robinhood"
	"stockbot/internal/util"
	"stockbot/internal/vault"
)

func usage() {
	fmt.Fprintf(os.Stderr, `usage: stockbot <command> [flags]

commands:
  login      authenticate, handling device verification
  logout     revoke tokens and clear the stored session
  status     show session and rate limiter state
  positions  list stock positions
  quote      show quotes for the given symbols
  options    screen covered-call candidates for a symbol
  advise     ask the model for covered-call recommendations

environment:
  STOCKBOT_CONFIG      config file path (default config/stockbot.yaml)
  ROBINHOOD_PASSWORD   login password (never stored)
  GEMINI_API_KEY       advisor model credentials
`)
}

func main() {
	cfgPath := "config/stockbot.yaml"
	if p := os.Getenv("STOCKBOT_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	app, err := newApp(cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cmd, args := os.Args[1], os.Args[2:]
	if err := app.run(ctx, cmd, args); err != nil {
		logger.Error("command failed", "command", cmd, "error", err)
		os.Exit(1)
	}
}

type app struct {
	cfg     *config.Config
	log     *slog.Logger
	client  *robinhood.Client
	vault   *vault.Vault
	limiter *ratelimit.Limiter
	news    *news.Fetcher
	stdin   *bufio.Reader
}

func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	v, err := vault.Open(cfg.Vault.DBPath, logger)
	if err != nil {
		return nil, err
	}

	limiter := ratelimit.NewLimiter(
		cfg.RateLimit.CallsPerMinute,
		cfg.RateLimit.CallsPerHour,
		cfg.RateLimit.MinDelay.Std())

	client := robinhood.NewClient(robinhood.Options{
		Endpoints: robinhood.Endpoints{
			API:      cfg.Robinhood.APIBaseURL,
			Identity: cfg.Robinhood.IdentityBaseURL,
		},
		ClientID:       cfg.Robinhood.ClientID,
		SessionPath:    cfg.Robinhood.SessionPath,
		ExpiryMargin:   cfg.Robinhood.ExpiryMargin.Std(),
		Timeout:        cfg.Robinhood.RequestTimeout.Std(),
		MaxAttempts:    cfg.Retry.MaxAttempts,
		RetryBaseDelay: cfg.Retry.BaseDelay.Std(),
		Limiter:        limiter,
		Breaker: ratelimit.NewBreaker(
			cfg.RateLimit.FailureThreshold,
			cfg.RateLimit.Cooldown.Std()),
		Logger: logger,
	})

	return &app{
		cfg:     cfg,
		log:     logger,
		client:  client,
		vault:   v,
		limiter: limiter,
		news:    news.NewFetcher(nil, "", logger),
		stdin:   bufio.NewReader(os.Stdin),
	}, nil
}

func (a *app) Close() {
	if err := a.vault.Close(); err != nil {
		a.log.Warn("closing vault", "error", err)
	}
}

func (a *app) run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "login":
		return a.cmdLogin(ctx, args)
	case "logout":
		return a.cmdLogout(ctx)
	case "status":
		return a.cmdStatus(ctx)
	case "positions":
		return a.cmdPositions(ctx)
	case "quote":
		return a.cmdQuote(ctx, args)
	case "options":
		return a.cmdOptions(ctx, args)
	case "advise":
		return a.cmdAdvise(ctx, args)
	default:
		usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func (a *app) prompt(label string) (string, error) {
	fmt.Print(label)
	line, err := a.stdin.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// requireSession restores the persisted session for data commands. The
// client refreshes a stale session on first use; only a missing one needs a
// fresh login.
func (a *app) requireSession() error {
	if !a.client.RestoreSession() {
		return errors.New("no stored session, run `stockbot login` first")
	}
	return nil
}

// ---------------------------------------------------------------------------
// login / logout / status
// ---------------------------------------------------------------------------

func (a *app) cmdLogin(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	user := fs.String("user", "", "Robinhood username (default: last used)")
	mfa := fs.String("mfa", "", "TOTP code, if the account has app-based MFA")
	sms := fs.Bool("sms", false, "verify via SMS code instead of app approval")
	wait := fs.Duration("wait", 2*time.Minute, "how long to wait for app approval")
	if err := fs.Parse(args); err != nil {
		return err
	}

	username := *user
	if username == "" {
		last, err := a.vault.LastUsername(ctx)
		if err != nil {
			return err
		}
		username = last
	}
	if username == "" {
		var err error
		if username, err = a.prompt("username: "); err != nil {
			return err
		}
	}
	if username == "" {
		return errors.New("no username given")
	}

	password := os.Getenv("ROBINHOOD_PASSWORD")
	if password == "" {
		var err error
		if password, err = a.prompt("password (or set ROBINHOOD_PASSWORD): "); err != nil {
			return err
		}
	}
	if password == "" {
		return errors.New("no password given")
	}

	deviceToken, err := a.vault.DeviceToken(ctx, username)
	if err != nil {
		return err
	}

	creds := robinhood.Credentials{Username: username, Password: password, MFACode: *mfa}
	res, err := a.client.Login(ctx, creds, deviceToken)
	if err != nil {
		return err
	}

	if res.Challenge != nil {
		sess, err := a.completeVerification(ctx, res.Challenge, creds, deviceToken, *sms, *wait)
		if err != nil {
			return err
		}
		a.client.SetSession(sess)
	}

	if err := a.vault.SetLastUsername(ctx, username); err != nil {
		a.log.Warn("remembering username", "error", err)
	}
	if err := a.vault.RecordLogin(ctx, username); err != nil {
		a.log.Warn("recording login", "error", err)
	}

	sess := a.client.Session()
	fmt.Printf("logged in as %s, session valid until %s\n",
		username, sess.ExpiresAt.Local().Format(time.RFC1123))
	return nil
}

// completeVerification drives a login challenge to a usable session.
func (a *app) completeVerification(ctx context.Context, ch *robinhood.VerificationChallenge, creds robinhood.Credentials, deviceToken string, sms bool, wait time.Duration) (*robinhood.Session, error) {
	verifier := a.client.Verifier()

	fmt.Println("Robinhood requires device verification for this login.")
	if err := verifier.RegisterMachine(ctx, ch, deviceToken); err != nil {
		return nil, err
	}

	if !sms {
		fmt.Printf("Approve this login in the Robinhood app (waiting up to %s, or rerun with -sms)...\n", wait)
		actx, cancel := context.WithTimeout(ctx, wait)
		defer cancel()
		return verifier.AwaitAppApproval(actx, ch, creds, deviceToken)
	}

	if err := verifier.RequestFallback(ctx, ch); err != nil {
		return nil, err
	}
	fmt.Println("A verification code was sent by SMS.")

	for {
		code, err := a.prompt("code: ")
		if err != nil {
			return nil, err
		}
		sess, err := verifier.SubmitCode(ctx, ch, code, creds, deviceToken)
		if err == nil {
			return sess, nil
		}
		if ch.Terminal() {
			return nil, err
		}
		fmt.Printf("code rejected (%v), try again\n", err)
	}
}

func (a *app) cmdLogout(ctx context.Context) error {
	a.client.RestoreSession()
	if err := a.client.Logout(ctx); err != nil {
		return err
	}
	fmt.Println("logged out, session cleared")
	return nil
}

func (a *app) cmdStatus(ctx context.Context) error {
	fmt.Printf("config:  session %s\n         vault   %s\n",
		a.cfg.Robinhood.SessionPath, a.cfg.Vault.DBPath)

	if !a.client.RestoreSession() {
		fmt.Println("session: none")
		return nil
	}
	sess := a.client.Session()
	state := "stale (will refresh on next call)"
	if sess.Valid(a.cfg.Robinhood.ExpiryMargin.Std(), time.Now()) {
		state = "valid until " + sess.ExpiresAt.Local().Format(time.RFC1123)
	}
	fmt.Printf("session: %s\n", state)
	fmt.Printf("device:  %s\n", util.Redact(sess.DeviceToken))
	if sess.AccountID != "" {
		fmt.Printf("account: %s\n", sess.AccountID)
	}

	if user, err := a.vault.LastUsername(ctx); err == nil && user != "" {
		fmt.Printf("user:    %s\n", user)
	}

	stats := a.limiter.Stats()
	fmt.Printf("limits:  %d/%d calls last minute, %d/%d last hour\n",
		stats.CallsLastMinute, stats.MinuteLimit, stats.CallsLastHour, stats.HourLimit)
	return nil
}

// ---------------------------------------------------------------------------
// market data commands
// ---------------------------------------------------------------------------

func (a *app) cmdPositions(ctx context.Context) error {
	if err := a.requireSession(); err != nil {
		return err
	}

	positions, err := a.client.GetPositions(ctx, true)
	if err != nil {
		return err
	}
	if len(positions) == 0 {
		fmt.Println("no open positions")
		return nil
	}

	type row struct {
		symbol string
		pos    robinhood.Position
	}
	rows := make([]row, 0, len(positions))
	symbols := make([]string, 0, len(positions))
	for _, p := range positions {
		inst, err := a.client.GetInstrument(ctx, p.Instrument)
		if err != nil {
			return err
		}
		rows = append(rows, row{symbol: inst.Symbol, pos: p})
		symbols = append(symbols, inst.Symbol)
	}

	quotes, err := a.client.GetQuotes(ctx, symbols)
	if err != nil {
		return err
	}
	last := make(map[string]robinhood.Quote, len(quotes))
	for _, q := range quotes {
		last[q.Symbol] = q
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SYMBOL\tQTY\tAVG COST\tLAST\tVALUE")
	for _, r := range rows {
		q := last[r.symbol]
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			r.symbol,
			r.pos.Quantity.StringFixed(0),
			r.pos.AverageBuyPrice.StringFixed(2),
			q.LastTradePrice.StringFixed(2),
			q.LastTradePrice.Mul(r.pos.Quantity).StringFixed(2))
	}
	return w.Flush()
}

func (a *app) cmdQuote(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: stockbot quote SYMBOL...")
	}
	if err := a.requireSession(); err != nil {
		return err
	}

	quotes, err := a.client.GetQuotes(ctx, args)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SYMBOL\tLAST\tBID\tASK\tPREV CLOSE")
	for _, q := range quotes {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			q.Symbol,
			q.LastTradePrice.StringFixed(2),
			q.BidPrice.StringFixed(2),
			q.AskPrice.StringFixed(2),
			q.PreviousClose.StringFixed(2))
	}
	return w.Flush()
}

func (a *app) cmdOptions(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("options", flag.ContinueOnError)
	days := fs.Int("days", 45, "furthest expiration to consider, in days")
	top := fs.Int("top", 10, "how many candidates to show")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: stockbot options [flags] SYMBOL")
	}
	symbol := strings.ToUpper(fs.Arg(0))

	if err := a.requireSession(); err != nil {
		return err
	}

	quote, err := a.client.GetQuote(ctx, symbol)
	if err != nil {
		return err
	}

	evals, err := a.coveredCallCandidates(ctx, symbol, quote, *days)
	if err != nil {
		return err
	}
	if len(evals) == 0 {
		fmt.Printf("no covered-call candidates for %s within %d days\n", symbol, *days)
		return nil
	}
	if len(evals) > *top {
		evals = evals[:*top]
	}

	fmt.Printf("%s at %s, best %d candidates:\n", symbol, quote.LastTradePrice.StringFixed(2), len(evals))
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STRIKE\tEXPIRY\tDAYS\tBID\tASK\tPREMIUM\tANN%\tOTM%\tOI")
	for _, ev := range evals {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\t%s\t%s\t%d\n",
			ev.StrikePrice.StringFixed(2),
			ev.ExpirationDate,
			ev.DaysToExpiry,
			ev.BidPrice.StringFixed(2),
			ev.AskPrice.StringFixed(2),
			ev.PremiumPerContract.StringFixed(2),
			ev.AnnualizedReturn.StringFixed(1),
			ev.Moneyness.StringFixed(1),
			ev.OpenInterest)
	}
	return w.Flush()
}

func (a *app) cmdAdvise(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("advise", flag.ContinueOnError)
	days := fs.Int("days", 45, "furthest expiration to consider, in days")
	top := fs.Int("top", 5, "candidates per symbol shown to the model")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := a.requireSession(); err != nil {
		return err
	}

	positions, err := a.client.GetPositions(ctx, true)
	if err != nil {
		return err
	}

	req := advisor.Request{
		Candidates:    make(map[string][]analysis.Evaluation),
		News:          make(map[string][]news.Article),
		RiskTolerance: a.cfg.Advisor.RiskTolerance,
		TopPerSymbol:  *top,
	}
	minPremium := decimal.NewFromFloat(a.cfg.Advisor.MinPremium)
	contractSize := decimal.NewFromInt(analysis.ContractMultiplier)
	for _, p := range positions {
		// Covered calls need at least one full contract's worth of shares.
		if p.Quantity.LessThan(contractSize) {
			continue
		}
		inst, err := a.client.GetInstrument(ctx, p.Instrument)
		if err != nil {
			return err
		}
		quote, err := a.client.GetQuote(ctx, inst.Symbol)
		if err != nil {
			return err
		}
		req.Holdings = append(req.Holdings, advisor.Holding{
			Symbol:    inst.Symbol,
			Quantity:  p.Quantity,
			LastPrice: quote.LastTradePrice,
		})

		evals, err := a.coveredCallCandidates(ctx, inst.Symbol, quote, *days)
		if err != nil {
			return err
		}
		// Contracts below the premium floor are not worth the assignment risk.
		kept := evals[:0]
		for _, ev := range evals {
			if ev.PremiumPerContract.GreaterThanOrEqual(minPremium) {
				kept = append(kept, ev)
			}
		}
		req.Candidates[inst.Symbol] = kept

		// Headlines are enrichment; a feed hiccup should not block advice.
		articles, err := a.news.Fetch(ctx, inst.Symbol, 5, 24*time.Hour)
		if err != nil {
			a.log.Warn("news lookup failed", "symbol", inst.Symbol, "error", err)
		} else if len(articles) > 0 {
			req.News[inst.Symbol] = articles
		}
	}

	if len(req.Holdings) == 0 {
		fmt.Println("no positions with at least 100 shares, nothing to write calls against")
		return nil
	}

	adv, err := advisor.NewGemini(ctx, a.cfg.Advisor.Model, a.log)
	if err != nil {
		return err
	}
	advice, err := adv.Advise(ctx, req)
	if err != nil {
		return err
	}

	fmt.Println(advice)
	return nil
}

// coveredCallCandidates walks the options chain for symbol and returns the
// screened, ranked call candidates expiring within the day window.
func (a *app) coveredCallCandidates(ctx context.Context, symbol string, quote *robinhood.Quote, days int) ([]analysis.Evaluation, error) {
	inst, err := a.client.GetInstrumentBySymbol(ctx, symbol)
	if err != nil {
		return nil, err
	}
	chain, err := a.client.GetOptionsChain(ctx, inst.ID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var candidates []analysis.Candidate
	for _, expiry := range chain.ExpirationDates {
		dte, err := analysis.DaysUntil(expiry, now)
		if err != nil {
			return nil, err
		}
		if dte <= 0 || dte > days {
			continue
		}

		contracts, err := a.client.GetOptionsInstruments(ctx, chain.ID, expiry, "call")
		if err != nil {
			return nil, err
		}
		if len(contracts) == 0 {
			continue
		}

		urls := make([]string, len(contracts))
		byURL := make(map[string]robinhood.OptionInstrument, len(contracts))
		for i, oc := range contracts {
			urls[i] = oc.URL
			byURL[oc.URL] = oc
		}

		marketData, err := a.client.GetOptionsMarketData(ctx, urls)
		if err != nil {
			return nil, err
		}
		for _, md := range marketData {
			oc, ok := byURL[md.Instrument]
			if !ok {
				continue
			}
			candidates = append(candidates, analysis.Candidate{
				Symbol:         symbol,
				StrikePrice:    oc.StrikePrice,
				ExpirationDate: oc.ExpirationDate,
				DaysToExpiry:   dte,
				BidPrice:       md.BidPrice,
				AskPrice:       md.AskPrice,
				Volume:         md.Volume,
				OpenInterest:   md.OpenInterest,
				Delta:          md.Delta,
				ImpliedVol:     md.ImpliedVolatility,
			})
		}
	}

	return analysis.EvaluateAll(candidates, quote.LastTradePrice)
}
