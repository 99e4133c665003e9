package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/keyfold/walletd/pkg/log"
)

// ExportOptions contains options for exporting the send history.
type ExportOptions struct {
	Sender    string
	Status    TxStatus
	OutputDir string
}

// TransactionExporter handles exporting the send history to CSV.
type TransactionExporter struct {
	store *Store
}

// NewTransactionExporter creates a new transaction exporter.
func NewTransactionExporter(store *Store) *TransactionExporter {
	return &TransactionExporter{store: store}
}

// ExportToCSV exports transactions to CSV format.
func (e *TransactionExporter) ExportToCSV(ctx context.Context, writer io.Writer, options ExportOptions) error {
	transactions, err := e.store.GetTransactions(ctx, options.Sender, options.Status, 0)
	if err != nil {
		return fmt.Errorf("failed to get transactions: %w", err)
	}

	csvWriter := csv.NewWriter(writer)
	defer csvWriter.Flush()

	header := []string{"TxHash", "Sender", "Recipient", "Amount", "Backend", "Status", "CreatedAt"}
	if err := csvWriter.Write(header); err != nil {
		return fmt.Errorf("failed to write header to CSV: %w", err)
	}

	for _, tx := range transactions {
		row := []string{
			tx.TxHash,
			tx.Sender,
			tx.Recipient,
			tx.Amount,
			tx.Backend,
			string(tx.Status),
			tx.CreatedAt.Format(time.RFC3339),
		}
		if err := csvWriter.Write(row); err != nil {
			return fmt.Errorf("failed to write row to CSV: %w", err)
		}
	}
	return nil
}

// ExportToFile exports transactions to a CSV file.
func (e *TransactionExporter) ExportToFile(ctx context.Context, options ExportOptions) (string, error) {
	if err := os.MkdirAll(options.OutputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory %s: %w", options.OutputDir, err)
	}

	fileName := filepath.Join(options.OutputDir, fmt.Sprintf("transactions_%s.csv", options.Sender))
	file, err := os.Create(fileName)
	if err != nil {
		return "", fmt.Errorf("failed to create CSV file %s: %w", fileName, err)
	}
	defer file.Close()

	if err := e.ExportToCSV(ctx, file, options); err != nil {
		return "", fmt.Errorf("failed to export to CSV: %w", err)
	}

	return fileName, nil
}

func runExportTransactionsCli(logger log.Logger) {
	logger = logger.WithName("export-transactions")
	if len(os.Args) < 3 || len(os.Args) > 4 {
		logger.Fatal("Usage: walletd export-transactions <sender> [status]")
	}

	sender := os.Args[2]

	var status TxStatus
	if len(os.Args) > 3 {
		parsed, err := parseTxStatus(os.Args[3])
		if err != nil {
			logger.Fatal("Invalid transaction status", "status", os.Args[3], "error", err)
		}
		status = parsed
	}

	config, err := LoadConfig(logger)
	if err != nil {
		logger.Fatal("Failed to load configuration", "error", err)
	}

	db, err := ConnectToDB(config.dbConf, logger)
	if err != nil {
		logger.Fatal("Failed to setup database", "error", err)
	}

	exporter := NewTransactionExporter(NewStore(db))
	options := ExportOptions{
		Sender:    sender,
		Status:    status,
		OutputDir: "csv_export",
	}

	fileName, err := exporter.ExportToFile(context.Background(), options)
	if err != nil {
		logger.Fatal("Failed to export transactions", "error", err)
	}
	logger.Info("Successfully exported transactions", "file", fileName)
}
