//go:build ignore

// Package main generates a synthetic multilingual JSONL corpus for load and
// benchmark runs.
//
// Usage: go run scripts/generate-corpus.go -docs 1000 -output testdata/bench.jsonl
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"strings"
)

var (
	numDocs   = flag.Int("docs", 1000, "Number of documents to generate")
	maxChunks = flag.Int("max-chunks", 6, "Maximum chunks per document")
	output    = flag.String("output", "-", "Output file (- for stdout)")
	seed      = flag.Int64("seed", 42, "Random seed for reproducibility")
)

type record struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Tags     []string `json:"tags"`
	Scheme   string   `json:"scheme"`
	Language string   `json:"language"`
	Chunks   []string `json:"chunks"`
}

// language holds the vocabulary one document is written in.
type language struct {
	code  string
	sep   string
	words []string
}

var languages = []language{
	{"en", " ", []string{"search", "index", "vector", "query", "model", "learning", "document", "ranking", "semantic", "keyword", "latency", "cluster", "storage", "network", "training", "embedding"}},
	{"de", " ", []string{"Suche", "Index", "Anfrage", "Modell", "Lernen", "Dokument", "Rangfolge", "Speicher", "Netzwerk", "Daten", "Ergebnis", "Wissen"}},
	{"fr", " ", []string{"recherche", "index", "requête", "modèle", "apprentissage", "document", "classement", "stockage", "réseau", "données", "résultat", "savoir"}},
	{"ru", " ", []string{"поиск", "индекс", "запрос", "модель", "обучение", "документ", "ранжирование", "хранилище", "сеть", "данные"}},
	{"zh", "", []string{"搜索", "索引", "向量", "查询", "模型", "学习", "文档", "排序", "语义", "存储", "网络", "数据"}},
	{"ja", "", []string{"検索", "索引", "クエリ", "モデル", "学習", "文書", "順位", "意味", "保存", "データ"}},
	{"ar", " ", []string{"بحث", "فهرس", "استعلام", "نموذج", "تعلم", "مستند", "ترتيب", "تخزين", "شبكة", "بيانات"}},
}

var (
	topics  = []string{"topic/ai", "topic/ai/nlp", "topic/search", "topic/storage", "topic/infra"}
	levels  = []string{"level/intro", "level/advanced"}
	schemes = []string{"kb/public", "kb/internal", "kb/private"}
)

func main() {
	flag.Parse()
	rng := rand.New(rand.NewSource(*seed))

	w := os.Stdout
	if *output != "-" {
		f, err := os.Create(*output)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating %s: %v\n", *output, err)
			os.Exit(1)
		}
		defer f.Close()
		w = f
	}
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)

	chunks := 0
	for i := 0; i < *numDocs; i++ {
		r := generate(rng, i)
		chunks += len(r.Chunks)
		if err := enc.Encode(r); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing record: %v\n", err)
			os.Exit(1)
		}
	}
	if err := bw.Flush(); err != nil {
		fmt.Fprintf(os.Stderr, "Error flushing output: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "Generated %d documents (%d chunks)\n", *numDocs, chunks)
}

func generate(rng *rand.Rand, i int) record {
	lang := languages[rng.Intn(len(languages))]
	n := 1 + rng.Intn(*maxChunks)

	title := sentence(rng, lang, 3)
	if n > 1 {
		title = fmt.Sprintf("%s (Part 1/%d)", title, n)
	}
	r := record{
		ID:       fmt.Sprintf("doc-%05d", i),
		Title:    title,
		Tags:     []string{topics[rng.Intn(len(topics))], levels[rng.Intn(len(levels))]},
		Scheme:   schemes[rng.Intn(len(schemes))],
		Language: lang.code,
	}
	for c := 0; c < n; c++ {
		r.Chunks = append(r.Chunks, paragraph(rng, lang))
	}
	return r
}

func paragraph(rng *rand.Rand, lang language) string {
	sentences := make([]string, 2+rng.Intn(4))
	for i := range sentences {
		sentences[i] = sentence(rng, lang, 6+rng.Intn(10))
	}
	if lang.sep == "" {
		return strings.Join(sentences, "。") + "。"
	}
	return strings.Join(sentences, ". ") + "."
}

func sentence(rng *rand.Rand, lang language, words int) string {
	parts := make([]string, words)
	for i := range parts {
		parts[i] = lang.words[rng.Intn(len(lang.words))]
	}
	return strings.Join(parts, lang.sep)
}
