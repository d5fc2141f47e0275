package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/scrtlabs/attest-hub/internal/client"
)

func showStatus(ctx context.Context, c *client.Client) error {
	health, err := c.GetServiceHealth(ctx)
	if err != nil {
		return fmt.Errorf("fetch service health: %w", err)
	}

	fmt.Printf("status=%s\n", health.Status)
	fmt.Printf("vms_online=%d\n", health.VMsOnline)
	fmt.Printf("vms_total=%d\n", health.VMsTotal)
	fmt.Printf("cache_hit_rate=%.2f\n", health.CacheHitRate)
	fmt.Printf("uptime_seconds=%d\n", health.UptimeSecs)
	fmt.Printf("version=%s\n", health.Version)
	return nil
}

func attestOne(ctx context.Context, c *client.Client, vmName string) error {
	data, err := c.GetAttestation(ctx, vmName)
	if err != nil {
		return err
	}
	printAttestation(data)
	return nil
}

func attestDual(ctx context.Context, c *client.Client) error {
	dual, err := c.GetDualAttestation(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("correlation_id=%s\n", dual.CorrelationID)
	fmt.Printf("timestamp=%s\n", dual.Timestamp)
	for _, name := range sortedKeys(dual.Attestations) {
		fmt.Println()
		printAttestation(dual.Attestations[name])
	}
	return nil
}

func attestAll(ctx context.Context, c *client.Client) error {
	results, err := c.GetAllAttestations(ctx)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Println("no attestations available")
		return nil
	}
	for i, name := range sortedKeys(results) {
		if i > 0 {
			fmt.Println()
		}
		printAttestation(results[name])
	}
	return nil
}

func attestBatch(ctx context.Context, c *client.Client, vmNames []string) error {
	results, failures, err := c.GetBatchAttestations(ctx, vmNames)
	if err != nil {
		return err
	}
	for i, name := range sortedKeys(results) {
		if i > 0 {
			fmt.Println()
		}
		printAttestation(results[name])
	}
	for _, name := range sortedKeys(failures) {
		fmt.Printf("error vm=%s: %s\n", name, failures[name])
	}
	return nil
}

func listVMs(ctx context.Context, c *client.Client) error {
	vms, err := c.ListVMs(ctx)
	if err != nil {
		return fmt.Errorf("list vms: %w", err)
	}
	if len(vms) == 0 {
		fmt.Println("no VMs configured")
		return nil
	}
	for _, name := range sortedKeys(vms) {
		vm := vms[name]
		fmt.Printf("name=%s endpoint=%s type=%s strategy=%s status=%s error_count=%d",
			vm.Name, vm.Endpoint, vm.Type, vm.ParsingStrategy, vm.Status, vm.ErrorCount)
		if vm.LastSuccessfulAttestation != "" {
			fmt.Printf(" last_success=%s", vm.LastSuccessfulAttestation)
		}
		fmt.Println()
	}
	return nil
}

func printAttestation(d client.AttestationData) {
	fmt.Printf("vm_name=%s\n", d.VMName)
	if d.VMType != "" {
		fmt.Printf("vm_type=%s\n", d.VMType)
	}
	fmt.Printf("mrtd=%s\n", d.MRTD)
	fmt.Printf("rtmr0=%s\n", d.RTMR0)
	fmt.Printf("rtmr1=%s\n", d.RTMR1)
	fmt.Printf("rtmr2=%s\n", d.RTMR2)
	fmt.Printf("rtmr3=%s\n", d.RTMR3)
	fmt.Printf("report_data=%s\n", d.ReportData)
	if d.CertificateFingerprint != "" {
		fmt.Printf("certificate_fingerprint=%s\n", d.CertificateFingerprint)
	}
	fmt.Printf("timestamp=%s\n", d.Timestamp)
	fmt.Printf("parsing_method=%s\n", d.ParsingMethod)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
