package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"sii-extractor/client"
	"sii-extractor/internal/types"
)

type options struct {
	op         string
	rut        string
	clave      string
	period     string
	year       int
	folio      int64
	internalID string
	output     string
}

func main() {
	// Load .env file if present
	_ = godotenv.Load()

	// Parse command line flags
	var (
		opFlag         = flag.String("op", "", "Operation: contribuyente, compras, ventas, resumen, formularios, pdf, boletas")
		rutFlag        = flag.String("rut", os.Getenv("SII_RUT"), "Taxpayer RUT, e.g. 76035322-1 (default: SII_RUT env)")
		claveFlag      = flag.String("clave", os.Getenv("SII_CLAVE"), "Portal password (default: SII_CLAVE env)")
		periodFlag     = flag.String("period", "", "Tax period as YYYYMM (compras, ventas, resumen)")
		yearFlag       = flag.Int("year", time.Now().Year(), "Year (formularios, boletas)")
		folioFlag      = flag.Int64("folio", 0, "Folio filter (formularios) or target folio (pdf)")
		internalIDFlag = flag.String("internal-id", "", "Portal-internal submission id (pdf)")
		outputFlag     = flag.String("output", "", "Output file path (default: stdout)")
		headless       = flag.Bool("headless", true, "Run Chrome without a visible window")
		timeout        = flag.Duration("timeout", 10*time.Second, "Element wait timeout")
		maxRetries     = flag.Int("retries", 3, "Maximum HTTP retry attempts")
		diagnostics    = flag.String("diagnostics", "diagnostics", "Directory for failure screenshots and page snapshots")
		verbose        = flag.Bool("verbose", false, "Enable verbose logging")
	)
	flag.Parse()

	if *opFlag == "" {
		log.Fatal("The -op flag is required")
	}
	if *rutFlag == "" || *claveFlag == "" {
		log.Fatal("Credentials are required: pass -rut/-clave or set SII_RUT and SII_CLAVE")
	}

	// Setup logging
	logger := logrus.New()

	// Set timestamp format with milliseconds
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})

	// Set log level from LOG_LEVEL env if present
	if levelStr := os.Getenv("LOG_LEVEL"); levelStr != "" {
		if level, err := logrus.ParseLevel(levelStr); err == nil {
			logger.SetLevel(level)
		}
	} else if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}

	// Create configuration
	config := types.DefaultConfig()
	config.Headless = *headless
	config.Timeout = *timeout
	config.MaxRetries = *maxRetries
	config.DiagnosticsDir = *diagnostics

	opts := options{
		op:         *opFlag,
		rut:        *rutFlag,
		clave:      *claveFlag,
		period:     *periodFlag,
		year:       *yearFlag,
		folio:      *folioFlag,
		internalID: *internalIDFlag,
		output:     *outputFlag,
	}

	// run owns the client lifetime so the browser is released before any
	// fatal exit.
	if err := run(config, logger, opts); err != nil {
		logger.Fatalf("Operation %s failed: %v", opts.op, err)
	}
}

func run(config *types.Config, logger *logrus.Logger, opts options) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	c, err := client.New(config, logger, opts.rut, opts.clave)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	defer c.Close()

	startTime := time.Now()
	logger.Infof("Running %s for %s", opts.op, c.TaxID())

	var result interface{}
	switch opts.op {
	case "contribuyente":
		result, err = c.GetContribuyente(ctx)
	case "compras":
		result, err = runLedger(ctx, c.GetCompras, opts.period)
	case "ventas":
		result, err = runLedger(ctx, c.GetVentas, opts.period)
	case "resumen":
		var period types.Period
		period, err = parsePeriod(opts.period)
		if err == nil {
			result, err = c.GetResumen(ctx, period)
		}
	case "formularios":
		result, err = c.SearchFormularios(ctx, opts.year, opts.folio)
	case "pdf":
		var pdf []byte
		pdf, err = c.GetCompactFormPDF(ctx, opts.folio, opts.internalID)
		if err != nil {
			return err
		}
		if pdf == nil {
			return fmt.Errorf("no document found for folio %d", opts.folio)
		}
		if err := writePDF(logger, opts.output, pdf); err != nil {
			return err
		}
		logger.Infof("Operation completed in %v", time.Since(startTime))
		return nil
	case "boletas":
		result, err = c.GetBoletas(ctx, opts.year)
	default:
		return fmt.Errorf("unknown operation: %s", opts.op)
	}
	if err != nil {
		return err
	}
	logger.Infof("Operation completed in %v", time.Since(startTime))

	// Marshal results to JSON
	jsonData, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}

	// Output results
	if opts.output != "" {
		if err := os.WriteFile(opts.output, jsonData, 0644); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
		logger.Infof("Results written to: %s", opts.output)
	} else {
		fmt.Println(string(jsonData))
	}
	return nil
}

func runLedger(ctx context.Context, fetch func(context.Context, types.Period) ([]types.DocumentRecord, error), periodStr string) (interface{}, error) {
	period, err := parsePeriod(periodStr)
	if err != nil {
		return nil, err
	}
	return fetch(ctx, period)
}

func parsePeriod(s string) (types.Period, error) {
	if len(s) != 6 {
		return types.Period{}, fmt.Errorf("period must be YYYYMM, got %q", s)
	}
	year, err := strconv.Atoi(s[:4])
	if err != nil {
		return types.Period{}, fmt.Errorf("period must be YYYYMM, got %q", s)
	}
	month, err := strconv.Atoi(s[4:])
	if err != nil {
		return types.Period{}, fmt.Errorf("period must be YYYYMM, got %q", s)
	}
	period := types.Period{Year: year, Month: month}
	if !period.Valid() {
		return types.Period{}, fmt.Errorf("period out of range: %q", s)
	}
	return period, nil
}

func writePDF(logger *logrus.Logger, path string, pdf []byte) error {
	if path == "" {
		path = "formulario.pdf"
	}
	if err := os.WriteFile(path, pdf, 0644); err != nil {
		return fmt.Errorf("failed to write PDF: %w", err)
	}
	logger.Infof("PDF written to: %s (%d bytes)", path, len(pdf))
	return nil
}
