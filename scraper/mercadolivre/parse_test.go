package mercadolivre

import (
	"errors"
	"net/url"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
)

const polyBlock = `
<div class="ui-search-result__wrapper">
  <div class="poly-card">
    <span class="poly-component__brand">BRASTEMP</span>
    <h3 class="poly-component__title-wrapper"><a href="/geladeira-a#polycard_client=search&position=1"> Geladeira Brastemp Frost Free 375L </a></h3>
    <span class="poly-component__seller">Por Loja Oficial</span>
    <span class="poly-reviews__rating">4.8</span><span class="poly-reviews__total">(1.234)</span>
    <s class="andes-money-amount andes-money-amount--previous"><span class="andes-money-amount__currency-symbol">R$</span><span class="andes-money-amount__fraction">4.299</span></s>
    <div class="poly-price__current"><span class="andes-money-amount"><span class="andes-money-amount__currency-symbol">R$</span><span class="andes-money-amount__fraction">3.499</span><span class="andes-money-amount__cents">90</span></span></div>
  </div>
</div>`

const legacyBlock = `
<div class="ui-search-result__wrapper">
  <h2 class="ui-search-item__title">Geladeira Consul 300L</h2>
  <a class="ui-search-link" href="https://produto.mercadolivre.com.br/MLB-1?utm_source=google&tracking_id=abc&q=1">ver</a>
  <span class="ui-search-item__brand-discoverability">CONSUL</span>
  <div class="ui-search-price__second-line"><span class="andes-money-amount"><span class="andes-money-amount__fraction">2.199</span></span></div>
  <span class="ui-search-reviews__rating-number">4,5</span><span class="ui-search-reviews__amount">(87)</span>
</div>`

const brokenBlock = `
<div class="ui-search-result__wrapper">
  <h3 class="poly-component__title-wrapper"><a>Sem link</a></h3>
</div>`

const nextLink = `
<ul><li class="andes-pagination__button andes-pagination__button--next"><a href="/geladeira-frost-free_Desde_49#x">Seguinte</a></li></ul>`

func parseFixture(t *testing.T, body string) Page {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader("<html><body>" + body + "</body></html>"))
	require.NoError(t, err)
	base, _ := url.Parse("https://lista.mercadolivre.com.br/geladeira-frost-free")
	p, err := DefaultProfile()
	require.NoError(t, err)
	return ParsePage(doc.Selection, base, p)
}

func TestParsePagePolyLayout(t *testing.T) {
	page := parseFixture(t, polyBlock+nextLink)
	require.Empty(t, page.Skipped)
	require.Len(t, page.Blocks, 1)

	b := page.Blocks[0]
	require.Equal(t, "Geladeira Brastemp Frost Free 375L", b.Title)
	require.Equal(t, "BRASTEMP", b.Brand)
	require.Equal(t, "Por Loja Oficial", b.Seller)
	require.Equal(t, "R$ 3.499,90", b.Price)
	require.Equal(t, "R$", b.Currency)
	require.Equal(t, "R$ 4.299", b.OldPrice)
	require.Equal(t, "4.8", b.Rating)
	require.Equal(t, "(1.234)", b.ReviewCount)
	require.Equal(t, "https://lista.mercadolivre.com.br/geladeira-a", b.URL)

	require.Equal(t, "https://lista.mercadolivre.com.br/geladeira-frost-free_Desde_49", page.Next)
}

func TestParsePageLegacyLayout(t *testing.T) {
	page := parseFixture(t, legacyBlock)
	require.Len(t, page.Blocks, 1)

	b := page.Blocks[0]
	require.Equal(t, "Geladeira Consul 300L", b.Title)
	require.Equal(t, "CONSUL", b.Brand)
	require.Equal(t, "2.199", b.Price)
	require.Equal(t, "", b.Currency)
	require.Equal(t, "4,5", b.Rating)
	require.Equal(t, "(87)", b.ReviewCount)
	require.Equal(t, "https://produto.mercadolivre.com.br/MLB-1?q=1", b.URL)
	require.Empty(t, page.Next)
}

func TestParsePageSkipsMalformedBlocks(t *testing.T) {
	page := parseFixture(t, polyBlock+brokenBlock+legacyBlock)
	require.Len(t, page.Blocks, 2)
	require.Len(t, page.Skipped, 1)
	require.True(t, errors.Is(page.Skipped[0], ErrNoLink))
}

func TestParsePageWithoutBlocks(t *testing.T) {
	page := parseFixture(t, "<p>Nenhum resultado</p>")
	require.Empty(t, page.Blocks)
	require.Empty(t, page.Skipped)
}

func TestNormaliseProductURL(t *testing.T) {
	base, _ := url.Parse("https://lista.mercadolivre.com.br/geladeira")
	tests := []struct {
		href string
		want string
	}{
		{"/MLB-1", "https://lista.mercadolivre.com.br/MLB-1"},
		{"https://produto.mercadolivre.com.br/MLB-2#reviews", "https://produto.mercadolivre.com.br/MLB-2"},
		{"https://produto.mercadolivre.com.br/MLB-3?utm_medium=cpc&utm_source=x", "https://produto.mercadolivre.com.br/MLB-3"},
		{"https://produto.mercadolivre.com.br/MLB-4?tracking_id=1&b=2&a=1", "https://produto.mercadolivre.com.br/MLB-4?a=1&b=2"},
	}
	for _, tt := range tests {
		got, err := NormaliseProductURL(base, tt.href)
		require.NoError(t, err, tt.href)
		require.Equal(t, tt.want, got)
	}

	_, err := NormaliseProductURL(base, "javascript:void(0)")
	require.Error(t, err)
}
