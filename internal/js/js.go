package js

// Element functions, evaluated with `this` bound to the element.

// SCROLL_BY advances a scrollable container, e.g. the results feed, by dy pixels.
var SCROLL_BY string = `
(dy) => {
    this.scrollBy(0, dy);
    return this.scrollTop;
}
`

// TEXT_CONTENT reads the raw text content, which unlike innerText includes visually hidden text.
var TEXT_CONTENT string = `
() => {
    return this.textContent;
}
`

// Page functions.

// COUNT_MATCHES counts the nodes matching a selector, e.g. the rendered feed items.
var COUNT_MATCHES string = `
(selector) => {
    return document.querySelectorAll(selector).length;
}
`

// HIDE_WEBDRIVER removes the most common automation marker before any page script runs.
var HIDE_WEBDRIVER string = `
Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
`
