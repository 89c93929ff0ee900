package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"

	"stratum/pkg/domain"
)

// Fingerprint вычисляет детерминированный дайджест пары
// (версия среза графа, параметры запроса). Используется для дедупликации
// идентичных симуляций и как ключ кэша результатов.
func Fingerprint(snapshotVersion uint64, req *domain.SimulationRequest) string {
	data := requestToCanonical(snapshotVersion, req)
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:16])
}

// MasterSeed выводит мастер-seed генератора из fingerprint.
// Первые 8 байт hex-дайджеста интерпретируются как big-endian uint64.
func MasterSeed(fingerprint string) uint64 {
	raw, err := hex.DecodeString(fingerprint)
	if err != nil || len(raw) < 8 {
		// Fingerprint всегда валидный hex; fallback для ручных ключей
		sum := sha256.Sum256([]byte(fingerprint))
		raw = sum[:]
	}
	return binary.BigEndian.Uint64(raw[:8])
}

// requestToCanonical создаёт детерминированное представление запроса
func requestToCanonical(snapshotVersion uint64, req *domain.SimulationRequest) []byte {
	var result []byte

	result = append(result, []byte(fmt.Sprintf("v:%d;", snapshotVersion))...)
	result = append(result, []byte(fmt.Sprintf("ev:%s:%.6f;", req.Event.Kind, req.Event.Severity))...)

	if env := req.Event.Environment; env != nil {
		result = append(result, []byte(fmt.Sprintf("env:%.3f:%.3f:%.3f;",
			env.TemperatureC, env.WindSpeedKmh, env.PrecipitationMM))...)
	}

	// Стартовые отказы сортируются: множество, а не список
	initial := append([]domain.NodeID(nil), req.Initial()...)
	sort.Slice(initial, func(i, j int) bool { return initial[i] < initial[j] })
	for _, id := range initial {
		result = append(result, []byte(fmt.Sprintf("i:%s;", id))...)
	}

	result = append(result, []byte(fmt.Sprintf("h:%.6f;s:%.6f;n:%d;c:%.6f;",
		req.HorizonMinutes, req.TimeStepMinutes, req.MonteCarloRuns, req.ConfidenceLevel))...)
	result = append(result, []byte(fmt.Sprintf("bp:%.6f;lt:%.6f;",
		req.BasePropagationProbability, req.LoadThresholdMultiplier))...)

	if req.RecoveryEnabled {
		result = append(result, []byte(fmt.Sprintf("r:%.6f;", req.MeanRecoveryTimeMinutes))...)
	}

	return result
}

// BuildResultKey строит ключ кэша для агрегата симуляции
func BuildResultKey(fingerprint string) string {
	return fmt.Sprintf("sim:%s", fingerprint)
}

// BuildLatestKey строит ключ последнего принятого значения источника
func BuildLatestKey(sourceID string) string {
	return fmt.Sprintf("latest:%s", sourceID)
}

// QuickHash быстрый хеш для произвольных данных
func QuickHash(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// ShortHash короткий хеш (16 символов)
func ShortHash(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:8])
}
